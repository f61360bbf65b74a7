// Package photcal fits the per-image instrumental-to-physical flux
// transform: magnitude = -2.5*log10(flux) + zeroPoint [+ colorTerm*color].
//
// The fit is a least-squares solution with iterative sigma-clipping of
// residuals; gross outliers (variables, blends, bad pixels) are rejected
// without poisoning the zero point. A fit that cannot be trusted is
// returned as an invalid solution with the reason recorded — callers decide
// whether to exclude the image, so a calibration failure is data, not
// control flow.
package photcal

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/units"
)

// Config holds calibration parameters.
type Config struct {
	MinMatches    int     // minimum surviving matches for a valid fit (default 5)
	SigmaClip     float64 // residual clip threshold in sigma (default 3)
	MaxIterations int     // clip-refit iteration cap (default 10)

	// FitColorTerm enables the colour-term coefficient. Requires reference
	// magnitudes in both colour bands.
	FitColorTerm bool
	ColorBand1   string
	ColorBand2   string
}

// DefaultConfig returns production-default calibration parameters.
func DefaultConfig() Config {
	return Config{
		MinMatches:    5,
		SigmaClip:     3.0,
		MaxIterations: 10,
	}
}

// sample is one usable flux/magnitude pair.
type sample struct {
	instMag float64 // -2.5*log10(flux)
	refMag  float64
	color   float64
	weight  float64
}

// Calibrate fits a CalibrationSolution from cross-matched source/reference
// pairs. It always returns a solution; failures are marked invalid with the
// reason recorded rather than surfaced as errors.
func Calibrate(imageID, band string, matches []astro.Match, cfg Config) astro.CalibrationSolution {
	sol := astro.CalibrationSolution{
		ImageID:  imageID,
		Band:     band,
		FitColor: cfg.FitColorTerm,
	}

	samples := buildSamples(band, matches, cfg)
	if len(samples) < cfg.MinMatches {
		sol.Reason = "too few usable matches"
		return sol
	}

	accepted := samples
	var zp, ct, rms float64
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		zp, ct = fit(accepted, cfg.FitColorTerm)
		if math.IsNaN(zp) || math.IsInf(zp, 0) {
			sol.Reason = "fit did not converge"
			return sol
		}

		residuals := make([]float64, len(accepted))
		var sumsq float64
		for i, s := range accepted {
			residuals[i] = s.refMag - (s.instMag + zp + ct*s.color)
			sumsq += residuals[i] * residuals[i]
		}
		rms = math.Sqrt(sumsq / float64(len(accepted)))

		sigma := stat.StdDev(residuals, nil)
		if math.IsNaN(sigma) || math.IsInf(sigma, 0) {
			sol.Reason = "unbounded residuals"
			return sol
		}
		if sigma == 0 {
			break // exact fit, nothing to clip
		}

		kept := accepted[:0:0]
		for i, s := range accepted {
			if math.Abs(residuals[i]) <= cfg.SigmaClip*sigma {
				kept = append(kept, s)
			}
		}
		if len(kept) < cfg.MinMatches {
			sol.ZeroPoint = zp
			sol.ColorTerm = ct
			sol.RMS = rms
			sol.Accepted = len(kept)
			sol.Rejected = len(samples) - len(kept)
			sol.Reason = "too few matches survived clipping"
			return sol
		}
		if len(kept) == len(accepted) {
			accepted = kept
			break // converged: no points rejected this pass
		}
		accepted = kept
	}

	sol.ZeroPoint = zp
	sol.ColorTerm = ct
	sol.RMS = rms
	sol.Accepted = len(accepted)
	sol.Rejected = len(samples) - len(accepted)
	sol.ZeroPointErr = zeroPointErr(accepted, zp, ct)
	sol.Valid = true

	astro.Diagf("[Calibrate] image %s: ZP=%.4f±%.4f RMS=%.4f accepted=%d rejected=%d",
		imageID, sol.ZeroPoint, sol.ZeroPointErr, sol.RMS, sol.Accepted, sol.Rejected)
	return sol
}

// buildSamples converts matches into fit samples, skipping pairs without a
// positive flux or a reference magnitude in the image band.
func buildSamples(band string, matches []astro.Match, cfg Config) []sample {
	samples := make([]sample, 0, len(matches))
	for _, m := range matches {
		refMag, ok := m.Entry.Mag(band)
		if !ok || m.Source.Flux <= 0 {
			continue
		}
		s := sample{
			instMag: units.FluxToMag(m.Source.Flux),
			refMag:  refMag,
			weight:  1,
		}
		if magErr := units.FluxErrToMagErr(m.Source.Flux, m.Source.FluxErr); magErr > 0 {
			s.weight = 1 / (magErr * magErr)
		}
		if cfg.FitColorTerm {
			color, ok := m.Entry.Color(cfg.ColorBand1, cfg.ColorBand2)
			if !ok {
				continue
			}
			s.color = color
		}
		samples = append(samples, s)
	}
	return samples
}

// fit solves refMag - instMag = zp + ct*color by (weighted) least squares.
// Without a colour term this reduces to the weighted mean offset.
func fit(samples []sample, fitColor bool) (zp, ct float64) {
	n := len(samples)
	offsets := make([]float64, n)
	weights := make([]float64, n)
	for i, s := range samples {
		offsets[i] = s.refMag - s.instMag
		weights[i] = s.weight
	}
	if !fitColor {
		return stat.Mean(offsets, weights), 0
	}

	colors := make([]float64, n)
	for i, s := range samples {
		colors[i] = s.color
	}
	alpha, beta := stat.LinearRegression(colors, offsets, weights, false)
	return alpha, beta
}

// zeroPointErr estimates the zero-point standard error from the accepted
// residual scatter.
func zeroPointErr(samples []sample, zp, ct float64) float64 {
	if len(samples) < 2 {
		return math.NaN()
	}
	residuals := make([]float64, len(samples))
	for i, s := range samples {
		residuals[i] = s.refMag - (s.instMag + zp + ct*s.color)
	}
	return stat.StdDev(residuals, nil) / math.Sqrt(float64(len(samples)))
}
