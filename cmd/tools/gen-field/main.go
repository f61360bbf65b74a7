// gen-field builds a synthetic observation fixture: a reference catalog and
// per-epoch detection lists with configurable noise, pointing error, and an
// optional injected variable star. The output feeds the -fixture flag of the
// main server binary.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/halo-data/lightcurve.report/internal/fixture"
)

var (
	out           = flag.String("out", "field.json", "Output fixture file")
	seed          = flag.Int64("seed", 1, "Random seed")
	numStars      = flag.Int("stars", 60, "Number of catalog stars")
	numImages     = flag.Int("images", 5, "Number of epochs")
	centerRA      = flag.Float64("ra", 150.0, "Field center RA (deg)")
	centerDec     = flag.Float64("dec", 20.0, "Field center Dec (deg)")
	zeroPoint     = flag.Float64("zp", 25.0, "True photometric zero point")
	pointingErr   = flag.Float64("pointing-err", 5.0, "Pointing error injected per epoch (arcsec)")
	fluxNoise     = flag.Float64("flux-noise", 0.005, "Fractional flux noise")
	epochStep     = flag.Duration("epoch-step", time.Hour, "Time between epochs")
	variableAmp   = flag.Float64("variable-amp", 0, "Peak-to-peak amplitude of the injected variable star (mag); 0 disables")
	variablePeriod = flag.Duration("variable-period", 6*time.Hour, "Period of the injected variable star")
)

func main() {
	flag.Parse()

	opts := fixture.DefaultGenerateOptions()
	opts.Seed = *seed
	opts.NumStars = *numStars
	opts.NumImages = *numImages
	opts.CenterRA = *centerRA
	opts.CenterDec = *centerDec
	opts.ZeroPoint = *zeroPoint
	opts.PointingErrArcsec = *pointingErr
	opts.FluxNoiseFrac = *fluxNoise
	opts.EpochStep = *epochStep
	opts.VariableAmplitude = *variableAmp
	opts.VariablePeriod = *variablePeriod

	f, err := fixture.Generate(opts)
	if err != nil {
		log.Fatalf("failed to generate field: %v", err)
	}
	if err := fixture.Save(*out, f); err != nil {
		log.Fatalf("failed to save fixture: %v", err)
	}
	log.Printf("wrote %s: %d stars, %d epochs", *out, len(f.Entries), len(f.Images))
}
