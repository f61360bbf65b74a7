// Package pipeline runs the full per-image processing chain and collects
// batch reports: detect, register, cross-match, calibrate, then assemble
// light curves across every image that produced photometry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/astro/extract"
	"github.com/halo-data/lightcurve.report/internal/astro/lightcurve"
	"github.com/halo-data/lightcurve.report/internal/astro/photcal"
	"github.com/halo-data/lightcurve.report/internal/astro/register"
	"github.com/halo-data/lightcurve.report/internal/astro/storage/sqlite"
	"github.com/halo-data/lightcurve.report/internal/astro/xmatch"
	"github.com/halo-data/lightcurve.report/internal/catalog"
	"github.com/halo-data/lightcurve.report/internal/config"
	"github.com/halo-data/lightcurve.report/internal/units"
)

// Config collects the per-stage tuning for one batch run.
type Config struct {
	MinSNR   float64
	Register register.Config
	Photcal  photcal.Config

	// MatchTolArcsec is the pairing radius for the calibration cross-match,
	// run after registration has settled the astrometry.
	MatchTolArcsec float64

	// RegionRadiusDeg overrides the reference query radius. Zero derives it
	// from the image footprint.
	RegionRadiusDeg float64
	StarsOnly       bool

	// Workers bounds concurrent image processing. Zero or negative means
	// one worker per image.
	Workers int

	// PerImageTimeout bounds one image's processing time. Zero disables it.
	PerImageTimeout time.Duration
}

// DefaultConfig returns the stock batch configuration.
func DefaultConfig() Config {
	return Config{
		MinSNR:         5.0,
		Register:       register.DefaultConfig(),
		Photcal:        photcal.DefaultConfig(),
		MatchTolArcsec: 1.5,
		StarsOnly:      true,
	}
}

// ConfigFromTuning maps a loaded tuning file onto a batch configuration.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		MinSNR: t.GetMinSNR(),
		Register: register.Config{
			MinAnchors:      t.GetMinAnchors(),
			MaxIterations:   t.GetMaxRegisterIterations(),
			AnchorTolArcsec: t.GetAnchorToleranceArcsec(),
		},
		Photcal: photcal.Config{
			MinMatches:    t.GetMinCalibMatches(),
			SigmaClip:     t.GetSigmaClip(),
			MaxIterations: t.GetMaxCalibIterations(),
			FitColorTerm:  t.GetFitColorTerm(),
			ColorBand1:    t.GetColorBand1(),
			ColorBand2:    t.GetColorBand2(),
		},
		MatchTolArcsec:  t.GetMatchToleranceArcsec(),
		RegionRadiusDeg: t.GetRegionRadiusDeg(),
		StarsOnly:       t.GetStarsOnly(),
		Workers:         t.GetWorkers(),
		PerImageTimeout: t.GetPerImageTimeout(),
	}
}

// BatchReport summarizes one run over a set of images. Results holds one
// entry per input image in input order.
type BatchReport struct {
	RunID     string                    `json:"run_id"`
	StartedAt time.Time                 `json:"started_at"`
	Duration  time.Duration             `json:"duration"`
	Results   []astro.ImageResult       `json:"results"`
	Records   []lightcurve.ObjectRecord `json:"records"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	Resumed   int                       `json:"resumed"`
}

// Pipeline wires a reference catalog and a detector to the processing
// stages. Store is optional; when present, solutions and photometry are
// persisted and valid prior solutions are replayed instead of recomputed.
type Pipeline struct {
	cat   catalog.Catalog
	ext   *extract.Extractor
	store *sqlite.Store
	cfg   Config
}

// New builds a Pipeline. store may be nil for in-memory runs.
func New(cat catalog.Catalog, det extract.Detector, store *sqlite.Store, cfg Config) *Pipeline {
	return &Pipeline{
		cat:   cat,
		ext:   extract.New(det, cfg.MinSNR),
		store: store,
		cfg:   cfg,
	}
}

// Run processes every image and assembles light curves from the survivors.
// A failed image never aborts the batch; its failure is recorded in the
// report at the image's input position.
func (p *Pipeline) Run(ctx context.Context, images []astro.Image) (*BatchReport, error) {
	started := time.Now()
	report := &BatchReport{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Results:   make([]astro.ImageResult, len(images)),
	}
	astro.Opsf("run %s: %d images, %d workers", report.RunID, len(images), p.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Workers > 0 {
		g.SetLimit(p.cfg.Workers)
	}
	for i := range images {
		i := i
		g.Go(func() error {
			report.Results[i] = p.processImage(gctx, i, images[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range report.Results {
		res := &report.Results[i]
		if res.Outcome == astro.OutcomeSucceeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
		if res.Resumed {
			report.Resumed++
		}
	}
	report.Records = lightcurve.Assemble(report.Results)
	report.Duration = time.Since(started)

	if p.store != nil {
		if err := p.persist(report); err != nil {
			return nil, fmt.Errorf("persisting run %s: %w", report.RunID, err)
		}
	}
	astro.Opsf("run %s: %d succeeded, %d failed, %d resumed, %d objects in %v",
		report.RunID, report.Succeeded, report.Failed, report.Resumed, len(report.Records), report.Duration)
	return report, nil
}

// processImage runs one image through every stage and classifies the
// outcome. It never returns an error; failures become outcome records.
func (p *Pipeline) processImage(ctx context.Context, idx int, img astro.Image) astro.ImageResult {
	res := astro.ImageResult{Index: idx, ImageID: img.ID}

	if p.store != nil {
		if replayed, ok := p.replay(idx, img); ok {
			return replayed
		}
	}

	if p.cfg.PerImageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PerImageTimeout)
		defer cancel()
	}

	err := p.stages(ctx, img, &res)
	switch {
	case err == nil:
		// Outcome set by the calibration stage.
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		res.Outcome = astro.OutcomeTimedOut
		res.Detail = err.Error()
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		res.Outcome = astro.OutcomeCatalogUnavailable
		res.Detail = err.Error()
	case errors.Is(err, extract.ErrDetectionFailed):
		res.Outcome = astro.OutcomeDetectionFailed
		res.Detail = err.Error()
	default:
		res.Outcome = astro.OutcomeRegistrationFailed
		res.Detail = err.Error()
	}
	astro.Diagf("image %s [%d]: %s (%d sources, %d anchors, reg rms %.3f\")",
		img.ID, idx, res.Outcome, res.SourceCount, res.AnchorCount, res.RegRMSArcsec)
	return res
}

// replay looks for a stored valid solution for the image and rebuilds its
// result from persisted photometry.
func (p *Pipeline) replay(idx int, img astro.Image) (astro.ImageResult, bool) {
	sol, err := p.store.GetCalibration(img.ID)
	if err != nil || !sol.Valid {
		return astro.ImageResult{}, false
	}
	points, err := p.store.GetPhotometryByImage(img.ID)
	if err != nil {
		astro.Diagf("image %s: stored solution found but photometry unreadable: %v", img.ID, err)
		return astro.ImageResult{}, false
	}
	astro.Diagf("image %s [%d]: resumed from stored solution (zp %.3f, %d points)",
		img.ID, idx, sol.ZeroPoint, len(points))
	return astro.ImageResult{
		Index:    idx,
		ImageID:  img.ID,
		Outcome:  astro.OutcomeSucceeded,
		Solution: &sol,
		Points:   points,
		Resumed:  true,
	}, true
}

func (p *Pipeline) stages(ctx context.Context, img astro.Image, res *astro.ImageResult) error {
	if img.InitialWCS == nil {
		return errors.New("image carries no initial pointing")
	}

	ra, dec := img.CenterSky()
	radius := p.cfg.RegionRadiusDeg
	if radius <= 0 {
		radius = footprintRadiusDeg(img)
	}
	entries, err := p.cat.QueryRegion(ctx, ra, dec, radius, img.Band)
	if err != nil {
		if errors.Is(err, catalog.ErrCatalogUnavailable) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %v", catalog.ErrCatalogUnavailable, err)
	}
	if p.cfg.StarsOnly {
		entries = catalog.StarsOnly(entries)
	}
	astro.Tracef("image %s: %d reference entries within %.3f deg", img.ID, len(entries), radius)

	// Crowding diagnostic: a dense reference neighbourhood means ambiguous
	// matches and a less trustworthy fit.
	if len(entries) > 0 {
		const crowdingRadiusDeg = 1.0 / 60
		peak := 0
		for _, n := range catalog.StellarDensity(entries, crowdingRadiusDeg) {
			if n > peak {
				peak = n
			}
		}
		if peak > 0 {
			astro.Diagf("image %s: densest reference neighbourhood has %d entries within 1'", img.ID, peak)
		}
	}

	sources, err := p.ext.Extract(ctx, img)
	if err != nil {
		return err
	}
	res.SourceCount = len(sources)

	ix := xmatch.NewEntryIndex(entries)
	reg, err := register.Register(ctx, img, sources, entries, ix, p.cfg.Register)
	if err != nil {
		return err
	}
	res.AnchorCount = len(reg.Anchors)
	res.RegRMSArcsec = reg.RMSArcsec
	astro.Tracef("image %s: registered with %d anchors, rms %.3f\", %d iterations (converged=%v)",
		img.ID, len(reg.Anchors), reg.RMSArcsec, reg.Iterations, reg.Converged)

	pairs := xmatch.Match(xmatch.SourcePoints(sources), ix, p.cfg.MatchTolArcsec)
	matches := xmatch.ToMatches(pairs, sources, entries)

	sol := photcal.Calibrate(img.ID, img.Band, matches, p.cfg.Photcal)
	res.Solution = &sol
	res.Points = p.buildPoints(img, matches, sol)

	if sol.Valid {
		res.Outcome = astro.OutcomeSucceeded
	} else {
		res.Outcome = astro.OutcomeCalibrationInvalid
		res.Detail = sol.Reason
	}
	return nil
}

// buildPoints converts every cross-matched source into a calibrated
// measurement under the image's solution. Points from an invalid solution
// or a low-confidence pairing are flagged, not dropped.
func (p *Pipeline) buildPoints(img astro.Image, matches []astro.Match, sol astro.CalibrationSolution) []astro.Photometry {
	points := make([]astro.Photometry, 0, len(matches))
	for _, m := range matches {
		if m.Source.Flux <= 0 {
			continue
		}
		mag := units.FluxToMag(m.Source.Flux) + sol.ZeroPoint
		low := !sol.Valid || m.Quality == astro.MatchLowConfidence
		if sol.FitColor {
			if color, ok := m.Entry.Color(p.cfg.Photcal.ColorBand1, p.cfg.Photcal.ColorBand2); ok {
				mag += sol.ColorTerm * color
			} else {
				low = true
			}
		}
		magErr := units.FluxErrToMagErr(m.Source.Flux, m.Source.FluxErr)
		magErr = math.Sqrt(magErr*magErr + sol.ZeroPointErr*sol.ZeroPointErr)
		points = append(points, astro.Photometry{
			ObjectID:   m.Entry.ID,
			ImageID:    img.ID,
			Epoch:      img.Epoch,
			Mag:        mag,
			MagErr:     magErr,
			LowQuality: low,
		})
	}
	return points
}

func (p *Pipeline) persist(report *BatchReport) error {
	if err := p.store.InsertRun(sqlite.Run{
		RunID:            report.RunID,
		StartedUnixNanos: report.StartedAt.UnixNano(),
		ImageCount:       len(report.Results),
		Succeeded:        report.Succeeded,
		Failed:           report.Failed,
	}); err != nil {
		return err
	}
	for i := range report.Results {
		res := &report.Results[i]
		if err := p.store.InsertOutcome(report.RunID, *res); err != nil {
			return err
		}
		if res.Resumed {
			continue
		}
		if res.Solution != nil {
			if err := p.store.UpsertCalibration(*res.Solution); err != nil {
				return err
			}
		}
		for _, pt := range res.Points {
			if err := p.store.InsertPhotometry(pt); err != nil {
				return err
			}
		}
	}
	return nil
}

// footprintRadiusDeg derives a reference query radius from the image
// geometry: the center-to-corner distance under the initial pointing, with
// headroom for pointing error.
func footprintRadiusDeg(img astro.Image) float64 {
	cx, cy := float64(img.Width)/2, float64(img.Height)/2
	cra, cdec := img.InitialWCS.PixelToSky(cx, cy)
	kra, kdec := img.InitialWCS.PixelToSky(0, 0)
	r := units.Separation(cra, cdec, kra, kdec)
	return r * 1.1
}
