package wcs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelSkyRoundTrip(t *testing.T) {
	t.Parallel()

	tr := NewTransform(150.1, 2.2, 512, 512, 0.5)

	for _, p := range [][2]float64{{512, 512}, {0, 0}, {1023, 1023}, {100, 900}} {
		ra, dec := tr.PixelToSky(p[0], p[1])
		x, y, err := tr.SkyToPixel(ra, dec)
		require.NoError(t, err)
		assert.InDelta(t, p[0], x, 1e-6, "x round trip")
		assert.InDelta(t, p[1], y, 1e-6, "y round trip")
	}
}

func TestReferencePixelMapsToTangentPoint(t *testing.T) {
	t.Parallel()

	tr := NewTransform(10.0, -45.0, 256, 256, 1.0)
	ra, dec := tr.PixelToSky(256, 256)
	assert.InDelta(t, 10.0, ra, 1e-9)
	assert.InDelta(t, -45.0, dec, 1e-9)
}

func TestFitRecoversTransform(t *testing.T) {
	t.Parallel()

	truth := NewTransform(150.1, 2.2, 512, 512, 0.5)
	// Perturb the affine part so the fit has something to recover:
	// small rotation plus offset, as a dithered exposure would show.
	truth.A[1] = truth.A[0] * 0.02
	truth.A[3] = truth.A[4] * -0.02
	truth.A[2] = 0.001
	truth.A[5] = -0.0005

	var anchors []Anchor
	for x := 100.0; x <= 900; x += 200 {
		for y := 100.0; y <= 900; y += 200 {
			ra, dec := truth.PixelToSky(x, y)
			anchors = append(anchors, Anchor{X: x, Y: y, RA: ra, Dec: dec})
		}
	}

	initial := NewTransform(150.1, 2.2, 512, 512, 0.52)
	fitted, err := Fit(initial, anchors)
	require.NoError(t, err)

	rms := RMSResidualArcsec(fitted, anchors)
	assert.Less(t, rms, 1e-6, "noise-free anchors should fit exactly")
}

func TestFitRejectsTooFewAnchors(t *testing.T) {
	t.Parallel()

	initial := NewTransform(150.0, 2.0, 512, 512, 0.5)
	_, err := Fit(initial, []Anchor{{X: 1, Y: 1, RA: 150, Dec: 2}, {X: 2, Y: 2, RA: 150.001, Dec: 2.001}})
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestSkyToPixelFarHemisphere(t *testing.T) {
	t.Parallel()

	tr := NewTransform(150.0, 2.0, 512, 512, 0.5)
	_, _, err := tr.SkyToPixel(330.0, -2.0) // antipodal region
	assert.Error(t, err)
}

func TestRMSResidualEmptyAnchors(t *testing.T) {
	t.Parallel()

	tr := NewTransform(150.0, 2.0, 512, 512, 0.5)
	assert.True(t, math.IsNaN(RMSResidualArcsec(tr, nil)))
}
