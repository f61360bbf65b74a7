// Package register refines an image's pixel-to-sky transform against the
// reference catalog.
//
// Registration and cross-matching are mutually dependent: projecting
// sources needs a transform, and fitting a transform needs matched anchors.
// The dependency is modelled as an explicit bounded fixed-point iteration —
// project, match, refit — that stops when the anchor set stabilises or the
// iteration cap is reached, returning the best-residual solution seen. The
// cap makes termination a contract, not an accident of call structure.
package register

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/astro/xmatch"
	"github.com/halo-data/lightcurve.report/internal/catalog"
	"github.com/halo-data/lightcurve.report/internal/wcs"
)

// ErrInsufficientAnchors indicates registration was under-constrained: too
// few high-confidence source-to-catalog matches to fit a transform. The
// image stays unregistered; its sources keep pixel coordinates only.
var ErrInsufficientAnchors = errors.New("register: insufficient anchors")

// Config holds registration parameters.
type Config struct {
	MinAnchors      int     // minimum anchor matches to fit (default 4)
	MaxIterations   int     // fixed-point iteration cap (default 10)
	AnchorTolArcsec float64 // match tolerance for anchor selection
}

// DefaultConfig returns production-default registration parameters.
func DefaultConfig() Config {
	return Config{
		MinAnchors:      4,
		MaxIterations:   10,
		AnchorTolArcsec: 2.0,
	}
}

// Result is a refined transform with its fit diagnostics.
type Result struct {
	Transform  wcs.Transform
	Anchors    []astro.Match
	RMSArcsec  float64
	Iterations int
	Converged  bool // anchor set stabilised before the iteration cap
}

// Register refines the image's initial transform using the catalog entries
// (indexed once, shared read-only). On success it writes sky coordinates
// into the sources in place via the refined transform.
func Register(ctx context.Context, img astro.Image, sources []astro.Source, entries []catalog.Entry, ix *xmatch.Index, cfg Config) (Result, error) {
	if img.InitialWCS == nil {
		return Result{}, fmt.Errorf("register: image %s has no initial transform guess", img.ID)
	}
	if cfg.MinAnchors < 3 {
		cfg.MinAnchors = 3 // below this the affine fit is singular
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}

	current := *img.InitialWCS
	best := Result{RMSArcsec: math.Inf(1)}
	prevKey := ""

	// The initial guess can be off by many times the anchor tolerance, so
	// the first pass acquires anchors with a widened radius. Once a fit has
	// absorbed the bulk pointing error the radius drops to the configured
	// tolerance.
	const acquisitionFactor = 8
	searchTol := cfg.AnchorTolArcsec * acquisitionFactor

	// Unregistered sources must retain pixel coordinates only, so every
	// failure path clears the projections made during iteration.
	clearSky := func() {
		for i := range sources {
			sources[i].RA, sources[i].Dec = 0, 0
			sources[i].HasSky = false
		}
	}

	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			clearSky()
			return Result{}, err
		}

		projectSources(current, sources)
		pairs := xmatch.Match(xmatch.SourcePoints(sources), ix, searchTol)
		matches := xmatch.ToMatches(pairs, sources, entries)

		anchors := anchorSet(matches)
		if len(anchors) < cfg.MinAnchors {
			if math.IsInf(best.RMSArcsec, 1) {
				clearSky()
				return Result{}, fmt.Errorf("%w: image %s: %d of %d required",
					ErrInsufficientAnchors, img.ID, len(anchors), cfg.MinAnchors)
			}
			// A previous iteration fit something usable; keep it.
			astro.Diagf("[Register] image %s: anchor set collapsed at iteration %d, keeping best", img.ID, iter)
			break
		}

		fitted, err := wcs.Fit(current, toWCSAnchors(anchors))
		if err != nil {
			if math.IsInf(best.RMSArcsec, 1) {
				clearSky()
				return Result{}, fmt.Errorf("register: image %s: %w", img.ID, err)
			}
			break
		}

		rms := wcs.RMSResidualArcsec(fitted, toWCSAnchors(anchors))
		if rms < best.RMSArcsec {
			best = Result{
				Transform:  fitted,
				Anchors:    anchors,
				RMSArcsec:  rms,
				Iterations: iter,
			}
		}
		best.Iterations = iter

		key := membershipKey(anchors)
		astro.Tracef("[Register] image %s: iteration %d, %d anchors, RMS %.3f\"", img.ID, iter, len(anchors), rms)
		if key == prevKey {
			best.Converged = true
			break
		}
		prevKey = key
		current = fitted
		searchTol = cfg.AnchorTolArcsec
	}

	if math.IsInf(best.RMSArcsec, 1) {
		clearSky()
		return Result{}, fmt.Errorf("%w: image %s", ErrInsufficientAnchors, img.ID)
	}

	// Final projection through the winning transform so downstream stages
	// see sky coordinates consistent with the returned solution.
	projectSources(best.Transform, sources)
	return best, nil
}

// projectSources writes sky coordinates into every source.
func projectSources(t wcs.Transform, sources []astro.Source) {
	for i := range sources {
		ra, dec := t.PixelToSky(sources[i].X, sources[i].Y)
		sources[i].RA = ra
		sources[i].Dec = dec
		sources[i].HasSky = true
	}
}

// anchorSet keeps only high-confidence matches for transform fitting.
func anchorSet(matches []astro.Match) []astro.Match {
	anchors := make([]astro.Match, 0, len(matches))
	for _, m := range matches {
		if m.Quality == astro.MatchHighConfidence {
			anchors = append(anchors, m)
		}
	}
	return anchors
}

func toWCSAnchors(matches []astro.Match) []wcs.Anchor {
	anchors := make([]wcs.Anchor, len(matches))
	for i, m := range matches {
		anchors[i] = wcs.Anchor{
			X:   m.Source.X,
			Y:   m.Source.Y,
			RA:  m.Entry.RA,
			Dec: m.Entry.Dec,
		}
	}
	return anchors
}

// membershipKey is a stable signature of the anchor set used for the
// convergence check: iteration stops when membership no longer changes.
func membershipKey(anchors []astro.Match) string {
	keys := make([]string, len(anchors))
	for i, m := range anchors {
		keys[i] = fmt.Sprintf("%d:%s", m.Source.LocalID, m.Entry.ID)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
