package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/wcs"
)

type stubDetector struct {
	measurements []Measurement
	err          error
}

func (s *stubDetector) Detect(ctx context.Context, img astro.Image) ([]Measurement, error) {
	return s.measurements, s.err
}

func testImage() astro.Image {
	tr := wcs.NewTransform(150.0, 2.0, 512, 512, 0.5)
	return astro.Image{
		ID:         "img-001",
		Epoch:      time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC),
		Width:      1024,
		Height:     1024,
		Band:       "G",
		InitialWCS: &tr,
	}
}

func TestExtractFiltersBySNR(t *testing.T) {
	t.Parallel()

	det := &stubDetector{measurements: []Measurement{
		{X: 10, Y: 20, Flux: 1000, FluxErr: 10}, // SNR 100, kept
		{X: 30, Y: 40, Flux: 50, FluxErr: 25},   // SNR 2, dropped
		{X: 50, Y: 60, Flux: 500, FluxErr: 50},  // SNR 10, kept
		{X: 70, Y: 80, Flux: 200, FluxErr: 0},   // no error estimate, kept
	}}

	sources, err := New(det, 5.0).Extract(context.Background(), testImage())
	require.NoError(t, err)
	require.Len(t, sources, 3)

	// Local IDs are dense and in detector order.
	for i, s := range sources {
		assert.Equal(t, i, s.LocalID)
		assert.Equal(t, "img-001", s.ImageID)
		assert.False(t, s.HasSky, "extraction must not assign sky coordinates")
	}
	assert.Equal(t, 10.0, sources[0].X)
	assert.Equal(t, 50.0, sources[1].X)
}

func TestExtractDetectionFailure(t *testing.T) {
	t.Parallel()

	det := &stubDetector{err: errors.New("no background model")}
	_, err := New(det, 5.0).Extract(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrDetectionFailed)
	assert.Contains(t, err.Error(), "img-001")
}

func TestExtractEmptyIsNotAnError(t *testing.T) {
	t.Parallel()

	det := &stubDetector{}
	sources, err := New(det, 5.0).Extract(context.Background(), testImage())
	require.NoError(t, err)
	assert.Empty(t, sources)
}
