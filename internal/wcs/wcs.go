// Package wcs implements the pixel-to-sky transform used for astrometric
// registration: an affine mapping from pixel offsets to tangent-plane
// coordinates followed by a gnomonic (TAN) deprojection about a fixed
// tangent point.
//
// The affine coefficients are fit from anchor pairs by linear least squares.
package wcs

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/halo-data/lightcurve.report/internal/units"
)

// ErrDegenerate is returned when the anchor geometry cannot constrain the
// affine coefficients (fewer than three non-collinear anchors).
var ErrDegenerate = errors.New("wcs: degenerate anchor geometry")

// Transform maps pixel coordinates to ICRS sky coordinates.
//
// Pixel offsets (x-CRPixX, y-CRPixY) map through the 2x3 affine A to
// tangent-plane coordinates (xi, eta) in degrees, which deproject about
// the tangent point (TanRA, TanDec).
type Transform struct {
	CRPixX, CRPixY float64 // reference pixel
	TanRA, TanDec  float64 // tangent point, degrees

	// A holds the affine coefficients row-major:
	// xi  = A[0]*dx + A[1]*dy + A[2]
	// eta = A[3]*dx + A[4]*dy + A[5]
	A [6]float64
}

// NewTransform returns a transform with the given tangent point, reference
// pixel, and plate scale in arcseconds per pixel (north up, east left).
func NewTransform(tanRA, tanDec, crpixX, crpixY, scaleArcsec float64) Transform {
	s := units.ArcsecToDeg(scaleArcsec)
	return Transform{
		CRPixX: crpixX,
		CRPixY: crpixY,
		TanRA:  tanRA,
		TanDec: tanDec,
		A:      [6]float64{-s, 0, 0, 0, s, 0},
	}
}

// PixelToSky maps a pixel position to (RA, Dec) in degrees.
func (t Transform) PixelToSky(x, y float64) (ra, dec float64) {
	dx := x - t.CRPixX
	dy := y - t.CRPixY
	xi := units.DegToRad(t.A[0]*dx + t.A[1]*dy + t.A[2])
	eta := units.DegToRad(t.A[3]*dx + t.A[4]*dy + t.A[5])

	ra0 := units.DegToRad(t.TanRA)
	dec0 := units.DegToRad(t.TanDec)
	sinDec0, cosDec0 := math.Sincos(dec0)

	den := cosDec0 - eta*sinDec0
	ra = units.RadToDeg(ra0 + math.Atan2(xi, den))
	dec = units.RadToDeg(math.Atan2(sinDec0+eta*cosDec0, math.Hypot(xi, den)))
	ra = math.Mod(ra+360.0, 360.0)
	return ra, dec
}

// SkyToPixel maps (RA, Dec) in degrees to a pixel position. It inverts the
// gnomonic projection then the affine part; returns an error when the
// position is on the far hemisphere or the affine matrix is singular.
func (t Transform) SkyToPixel(ra, dec float64) (x, y float64, err error) {
	ra0 := units.DegToRad(t.TanRA)
	dec0 := units.DegToRad(t.TanDec)
	a := units.DegToRad(ra)
	d := units.DegToRad(dec)

	sinDec0, cosDec0 := math.Sincos(dec0)
	sinDec, cosDec := math.Sincos(d)
	cosDRA := math.Cos(a - ra0)

	div := sinDec*sinDec0 + cosDec*cosDec0*cosDRA
	if div <= 0 {
		return 0, 0, fmt.Errorf("wcs: position (%.4f, %.4f) not projectable about tangent point", ra, dec)
	}
	xi := units.RadToDeg(cosDec * math.Sin(a-ra0) / div)
	eta := units.RadToDeg((sinDec*cosDec0 - cosDec*sinDec0*cosDRA) / div)

	det := t.A[0]*t.A[4] - t.A[1]*t.A[3]
	if math.Abs(det) < 1e-18 {
		return 0, 0, ErrDegenerate
	}
	u := xi - t.A[2]
	v := eta - t.A[5]
	dx := (t.A[4]*u - t.A[1]*v) / det
	dy := (t.A[0]*v - t.A[3]*u) / det
	return dx + t.CRPixX, dy + t.CRPixY, nil
}

// Anchor pairs a pixel position with its known sky position.
type Anchor struct {
	X, Y    float64
	RA, Dec float64
}

// Fit derives the affine coefficients from anchor pairs by least squares,
// keeping the tangent point and reference pixel of the initial transform.
// At least three anchors with non-collinear pixel positions are required.
func Fit(initial Transform, anchors []Anchor) (Transform, error) {
	n := len(anchors)
	if n < 3 {
		return Transform{}, fmt.Errorf("%w: %d anchors", ErrDegenerate, n)
	}

	design := mat.NewDense(n, 3, nil)
	target := mat.NewDense(n, 2, nil)
	for i, anc := range anchors {
		xi, eta, err := projectTangent(initial.TanRA, initial.TanDec, anc.RA, anc.Dec)
		if err != nil {
			return Transform{}, err
		}
		design.Set(i, 0, anc.X-initial.CRPixX)
		design.Set(i, 1, anc.Y-initial.CRPixY)
		design.Set(i, 2, 1)
		target.Set(i, 0, xi)
		target.Set(i, 1, eta)
	}

	var coef mat.Dense
	if err := coef.Solve(design, target); err != nil {
		return Transform{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}

	fitted := initial
	fitted.A = [6]float64{
		coef.At(0, 0), coef.At(1, 0), coef.At(2, 0),
		coef.At(0, 1), coef.At(1, 1), coef.At(2, 1),
	}
	return fitted, nil
}

// RMSResidualArcsec returns the root-mean-square angular residual of the
// anchors under the transform, in arcseconds.
func RMSResidualArcsec(t Transform, anchors []Anchor) float64 {
	if len(anchors) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, anc := range anchors {
		ra, dec := t.PixelToSky(anc.X, anc.Y)
		sep := units.SeparationArcsec(ra, dec, anc.RA, anc.Dec)
		sum += sep * sep
	}
	return math.Sqrt(sum / float64(len(anchors)))
}

// projectTangent maps a sky position to tangent-plane (xi, eta) in degrees.
func projectTangent(tanRA, tanDec, ra, dec float64) (xi, eta float64, err error) {
	ra0 := units.DegToRad(tanRA)
	dec0 := units.DegToRad(tanDec)
	a := units.DegToRad(ra)
	d := units.DegToRad(dec)

	sinDec0, cosDec0 := math.Sincos(dec0)
	sinDec, cosDec := math.Sincos(d)
	cosDRA := math.Cos(a - ra0)

	div := sinDec*sinDec0 + cosDec*cosDec0*cosDRA
	if div <= 0 {
		return 0, 0, fmt.Errorf("wcs: anchor (%.4f, %.4f) not projectable about tangent point", ra, dec)
	}
	xi = units.RadToDeg(cosDec * math.Sin(a-ra0) / div)
	eta = units.RadToDeg((sinDec*cosDec0 - cosDec*sinDec0*cosDRA) / div)
	return xi, eta, nil
}
