package register

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/astro/xmatch"
	"github.com/halo-data/lightcurve.report/internal/catalog"
	"github.com/halo-data/lightcurve.report/internal/wcs"
)

// syntheticField builds a star grid and the sources a detector would see
// under the given true transform.
func syntheticField(truth wcs.Transform, nx, ny int) ([]catalog.Entry, []astro.Source) {
	step := func(k, n int) float64 {
		if n < 2 {
			return 0
		}
		return float64(k) * 800.0 / float64(n-1)
	}
	var entries []catalog.Entry
	var sources []astro.Source
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			x := 100.0 + step(i, nx)
			y := 100.0 + step(j, ny)
			ra, dec := truth.PixelToSky(x, y)
			id := fmt.Sprintf("ref-%d-%d", i, j)
			entries = append(entries, catalog.Entry{
				ID: id, RA: ra, Dec: dec, IsStar: true,
				Mags: map[string]float64{"G": 15.0},
			})
			sources = append(sources, astro.Source{
				ImageID: "img-001",
				LocalID: len(sources),
				X:       x,
				Y:       y,
				Flux:    1000,
				FluxErr: 10,
			})
		}
	}
	return entries, sources
}

func testImage(initial wcs.Transform) astro.Image {
	return astro.Image{
		ID:         "img-001",
		Epoch:      time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC),
		Width:      1024,
		Height:     1024,
		Band:       "G",
		InitialWCS: &initial,
	}
}

func TestRegisterRefinesTransform(t *testing.T) {
	t.Parallel()

	truth := wcs.NewTransform(150.1, 2.2, 512, 512, 0.5)
	entries, sources := syntheticField(truth, 5, 5)

	// Initial guess with a slightly wrong plate scale: ~1.3" error at the
	// field corners, inside the anchor tolerance.
	initial := wcs.NewTransform(150.1, 2.2, 512, 512, 0.503)
	ix := xmatch.NewEntryIndex(entries)

	res, err := Register(context.Background(), testImage(initial), sources, entries, ix, DefaultConfig())
	require.NoError(t, err)

	assert.True(t, res.Converged, "noise-free field should converge")
	assert.Less(t, res.RMSArcsec, 0.01)
	assert.GreaterOrEqual(t, len(res.Anchors), 4)

	for _, s := range sources {
		assert.True(t, s.HasSky, "all sources should carry sky coordinates after registration")
	}
}

func TestRegisterInsufficientAnchors(t *testing.T) {
	t.Parallel()

	truth := wcs.NewTransform(150.1, 2.2, 512, 512, 0.5)
	entries, sources := syntheticField(truth, 3, 1) // only three stars, below MinAnchors
	initial := truth
	ix := xmatch.NewEntryIndex(entries)

	_, err := Register(context.Background(), testImage(initial), sources, entries, ix, DefaultConfig())
	assert.ErrorIs(t, err, ErrInsufficientAnchors)

	for _, s := range sources {
		assert.False(t, s.HasSky, "unregistered sources keep pixel coordinates only")
	}
}

func TestRegisterNilInitialTransform(t *testing.T) {
	t.Parallel()

	img := astro.Image{ID: "img-bad", Band: "G"}
	_, err := Register(context.Background(), img, nil, nil, xmatch.NewIndex(nil), DefaultConfig())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientAnchors)
}

func TestRegisterIterationCap(t *testing.T) {
	t.Parallel()

	truth := wcs.NewTransform(150.1, 2.2, 512, 512, 0.5)
	entries, sources := syntheticField(truth, 4, 4)
	initial := wcs.NewTransform(150.1, 2.2, 512, 512, 0.502)
	ix := xmatch.NewEntryIndex(entries)

	cfg := DefaultConfig()
	cfg.MaxIterations = 1
	res, err := Register(context.Background(), testImage(initial), sources, entries, ix, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Converged)
}

// TestRegisterTerminatesOnAmbiguousField feeds a grid where every source
// sits between two equidistant catalog entries, so anchor membership can
// flip between iterations. The loop must still stop within the cap and
// return a finite-residual solution.
func TestRegisterTerminatesOnAmbiguousField(t *testing.T) {
	t.Parallel()

	truth := wcs.NewTransform(150.1, 2.2, 512, 512, 0.5)
	entries, sources := syntheticField(truth, 4, 4)

	// Duplicate every entry offset by one tolerance width so each source
	// always has a competing counterpart.
	dup := make([]catalog.Entry, 0, 2*len(entries))
	for i, e := range entries {
		dup = append(dup, e)
		shifted := e
		shifted.ID = fmt.Sprintf("dup-%d", i)
		shifted.Dec += 2.0 / 3600.0
		dup = append(dup, shifted)
	}
	ix := xmatch.NewEntryIndex(dup)

	cfg := DefaultConfig()
	cfg.MaxIterations = 5
	res, err := Register(context.Background(), testImage(truth), sources, dup, ix, cfg)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Iterations, cfg.MaxIterations)
	assert.False(t, res.RMSArcsec != res.RMSArcsec, "RMS must be a real number") // NaN guard
}

func TestRegisterCancelledContext(t *testing.T) {
	t.Parallel()

	truth := wcs.NewTransform(150.1, 2.2, 512, 512, 0.5)
	entries, sources := syntheticField(truth, 4, 4)
	ix := xmatch.NewEntryIndex(entries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Register(ctx, testImage(truth), sources, entries, ix, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
