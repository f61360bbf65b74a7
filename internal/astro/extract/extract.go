// Package extract adapts the external source-detection collaborator into
// per-image Source lists. The detector owns all pixel-level numerics; this
// package only thresholds and normalises its raw measurements.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/halo-data/lightcurve.report/internal/astro"
)

// ErrDetectionFailed indicates the detector could not produce measurements
// for an image (bad/empty pixel data, no background model). Reported
// per-image; never fatal to the batch.
var ErrDetectionFailed = errors.New("extract: detection failed")

// Measurement is the detector's raw output for one candidate.
type Measurement struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Flux          float64 `json:"flux"`
	FluxErr       float64 `json:"flux_err"`
	SemiMajor     float64 `json:"semi_major"`
	SemiMinor     float64 `json:"semi_minor"`
	ThetaDeg      float64 `json:"theta_deg"`
	BackgroundRMS float64 `json:"background_rms,omitempty"`
}

// Detector is the external detection collaborator. Implementations consume
// the image's pixel array and background estimate out of band, keyed by the
// image identity.
type Detector interface {
	Detect(ctx context.Context, img astro.Image) ([]Measurement, error)
}

// Extractor wraps a Detector and filters its candidates by significance.
type Extractor struct {
	Detector Detector
	MinSNR   float64 // minimum Flux/FluxErr to keep a candidate
}

// New returns an Extractor with the given significance threshold.
func New(d Detector, minSNR float64) *Extractor {
	return &Extractor{Detector: d, MinSNR: minSNR}
}

// Extract runs the detector on the image and returns candidate sources above
// the significance threshold, with per-image local identifiers assigned in
// detector output order. A pure transform: the image is not modified.
func (e *Extractor) Extract(ctx context.Context, img astro.Image) ([]astro.Source, error) {
	measurements, err := e.Detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: image %s: %w", ErrDetectionFailed, img.ID, err)
	}

	sources := make([]astro.Source, 0, len(measurements))
	for _, m := range measurements {
		if m.FluxErr > 0 && m.Flux/m.FluxErr < e.MinSNR {
			continue
		}
		sources = append(sources, astro.Source{
			ImageID:   img.ID,
			LocalID:   len(sources),
			X:         m.X,
			Y:         m.Y,
			Flux:      m.Flux,
			FluxErr:   m.FluxErr,
			SemiMajor: m.SemiMajor,
			SemiMinor: m.SemiMinor,
			ThetaDeg:  m.ThetaDeg,
		})
	}

	astro.Tracef("[Extract] image %s: %d measurements, %d above SNR %.1f",
		img.ID, len(measurements), len(sources), e.MinSNR)
	return sources, nil
}
