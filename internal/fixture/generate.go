package fixture

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/astro/extract"
	"github.com/halo-data/lightcurve.report/internal/catalog"
	"github.com/halo-data/lightcurve.report/internal/units"
	"github.com/halo-data/lightcurve.report/internal/wcs"
)

// GenerateOptions controls synthetic field construction.
type GenerateOptions struct {
	Seed      int64
	NumStars  int
	NumImages int

	CenterRA    float64 // deg
	CenterDec   float64 // deg
	Width       int     // px
	Height      int     // px
	ScaleArcsec float64 // arcsec/px

	Band      string
	ZeroPoint float64 // true instrumental zero point
	MinMag    float64
	MaxMag    float64

	// Pixel noise added to every measured centroid.
	PosJitterPx float64
	// Fractional flux noise added to every measurement.
	FluxNoiseFrac float64
	// Pointing error injected into each image's initial solution, in
	// arcseconds, so registration has real work to do.
	PointingErrArcsec float64

	// Epoch spacing between consecutive images.
	EpochStep time.Duration
	Epoch0    time.Time

	// When positive, the first catalog star varies sinusoidally with this
	// peak-to-peak amplitude in magnitudes.
	VariableAmplitude float64
	VariablePeriod    time.Duration
}

// DefaultGenerateOptions returns options for a dense, well-behaved field.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Seed:              1,
		NumStars:          60,
		NumImages:         5,
		CenterRA:          150.0,
		CenterDec:         20.0,
		Width:             1024,
		Height:            1024,
		ScaleArcsec:       1.0,
		Band:              "r",
		ZeroPoint:         25.0,
		MinMag:            13.0,
		MaxMag:            18.0,
		PosJitterPx:       0.05,
		FluxNoiseFrac:     0.005,
		PointingErrArcsec: 5.0,
		EpochStep:         time.Hour,
		Epoch0:            time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC),
		VariableAmplitude: 0,
		VariablePeriod:    6 * time.Hour,
	}
}

// Generate builds a synthetic observation set: a reference catalog of stars
// randomly placed over the field, and one detection list per image produced
// by projecting each star through the true pointing and adding noise. The
// images carry deliberately offset initial solutions.
func Generate(opts GenerateOptions) (*File, error) {
	if opts.NumStars < 1 || opts.NumImages < 1 {
		return nil, fmt.Errorf("need at least one star and one image, got %d/%d", opts.NumStars, opts.NumImages)
	}
	if opts.Width < 2 || opts.Height < 2 || opts.ScaleArcsec <= 0 {
		return nil, fmt.Errorf("bad field geometry %dx%d @ %f arcsec/px", opts.Width, opts.Height, opts.ScaleArcsec)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	crpixX := float64(opts.Width) / 2
	crpixY := float64(opts.Height) / 2
	trueWCS := wcs.NewTransform(opts.CenterRA, opts.CenterDec, crpixX, crpixY, opts.ScaleArcsec)

	// Keep stars inside a margin so every epoch sees the full set.
	const marginPx = 40.0
	f := &File{Band: opts.Band}
	for i := 0; i < opts.NumStars; i++ {
		px := marginPx + rng.Float64()*(float64(opts.Width)-2*marginPx)
		py := marginPx + rng.Float64()*(float64(opts.Height)-2*marginPx)
		ra, dec := trueWCS.PixelToSky(px, py)
		mag := opts.MinMag + rng.Float64()*(opts.MaxMag-opts.MinMag)
		f.Entries = append(f.Entries, catalog.Entry{
			ID:           fmt.Sprintf("syn-%04d", i),
			RA:           ra,
			Dec:          dec,
			Source:       "synthetic",
			Mags:         map[string]float64{opts.Band: mag},
			MagErrs:      map[string]float64{opts.Band: 0.01},
			PosErrArcsec: 0.05,
			IsStar:       true,
		})
	}

	for n := 0; n < opts.NumImages; n++ {
		epoch := opts.Epoch0.Add(time.Duration(n) * opts.EpochStep)
		// The delivered pointing is wrong by a fraction of the field so
		// each run has to solve for the real one.
		offRA := (rng.Float64()*2 - 1) * units.ArcsecToDeg(opts.PointingErrArcsec) / math.Cos(units.DegToRad(opts.CenterDec))
		offDec := (rng.Float64()*2 - 1) * units.ArcsecToDeg(opts.PointingErrArcsec)
		initial := wcs.NewTransform(opts.CenterRA+offRA, opts.CenterDec+offDec, crpixX, crpixY, opts.ScaleArcsec)

		fx := ImageFixture{
			Image: astro.Image{
				ID:         fmt.Sprintf("img-%03d", n),
				Epoch:      epoch,
				Width:      opts.Width,
				Height:     opts.Height,
				Instrument: "synthcam",
				Band:       opts.Band,
				InitialWCS: &initial,
			},
		}

		for i, e := range f.Entries {
			mag := e.Mags[opts.Band]
			if i == 0 && opts.VariableAmplitude > 0 {
				phase := 2 * math.Pi * epoch.Sub(opts.Epoch0).Seconds() / opts.VariablePeriod.Seconds()
				mag += 0.5 * opts.VariableAmplitude * math.Sin(phase)
			}
			flux := units.MagToFlux(mag - opts.ZeroPoint)
			flux *= 1 + rng.NormFloat64()*opts.FluxNoiseFrac
			x, y, err := trueWCS.SkyToPixel(e.RA, e.Dec)
			if err != nil {
				return nil, fmt.Errorf("projecting star %s: %w", e.ID, err)
			}
			fx.Measurements = append(fx.Measurements, extract.Measurement{
				X:             x + rng.NormFloat64()*opts.PosJitterPx,
				Y:             y + rng.NormFloat64()*opts.PosJitterPx,
				Flux:          flux,
				FluxErr:       flux * math.Max(opts.FluxNoiseFrac, 1e-4),
				SemiMajor:     2.0,
				SemiMinor:     1.8,
				ThetaDeg:      0,
				BackgroundRMS: 10,
			})
		}
		f.Images = append(f.Images, fx)
	}
	return f, nil
}
