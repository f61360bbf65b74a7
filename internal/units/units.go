// Package units provides shared angle and magnitude conversions.
//
// Positions are stored in decimal degrees (ICRS right ascension and
// declination); matching tolerances are expressed in arcseconds.
// Instrumental fluxes convert to magnitudes via the usual -2.5*log10 scale.
package units

import "math"

// Angle constants
const (
	ArcsecPerDeg = 3600.0
	DegPerArcsec = 1.0 / ArcsecPerDeg
)

// Pogson's ratio: magnitude error per unit relative flux error.
const PogsonFactor = 2.5 / math.Ln10 // ≈ 1.0857

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// ArcsecToDeg converts arcseconds to degrees.
func ArcsecToDeg(arcsec float64) float64 { return arcsec * DegPerArcsec }

// DegToArcsec converts degrees to arcseconds.
func DegToArcsec(deg float64) float64 { return deg * ArcsecPerDeg }

// DeltaRA returns the wrap-normalised right ascension difference ra1-ra2
// in degrees, in the range [-180, 180).
func DeltaRA(ra1, ra2 float64) float64 {
	return math.Mod(ra1-ra2+540.0, 360.0) - 180.0
}

// Separation returns the angular separation in degrees between two sky
// positions given in decimal degrees, using the haversine formula. It is
// numerically stable for the small separations typical of cross-matching.
func Separation(ra1, dec1, ra2, dec2 float64) float64 {
	phi1 := DegToRad(dec1)
	phi2 := DegToRad(dec2)
	dPhi := phi2 - phi1
	dLam := DegToRad(DeltaRA(ra2, ra1))

	sinPhi := math.Sin(dPhi / 2)
	sinLam := math.Sin(dLam / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLam*sinLam
	if h > 1 {
		h = 1
	}
	return RadToDeg(2 * math.Asin(math.Sqrt(h)))
}

// SeparationArcsec is Separation expressed in arcseconds.
func SeparationArcsec(ra1, dec1, ra2, dec2 float64) float64 {
	return DegToArcsec(Separation(ra1, dec1, ra2, dec2))
}

// FluxToMag converts a positive instrumental flux to an instrumental
// magnitude on the -2.5*log10 scale (no zero point applied).
// Returns NaN for non-positive flux.
func FluxToMag(flux float64) float64 {
	if flux <= 0 {
		return math.NaN()
	}
	return -2.5 * math.Log10(flux)
}

// MagToFlux is the inverse of FluxToMag.
func MagToFlux(mag float64) float64 {
	return math.Pow(10, mag/-2.5)
}

// FluxErrToMagErr converts a flux uncertainty to a magnitude uncertainty
// via first-order propagation. Returns NaN for non-positive flux.
func FluxErrToMagErr(flux, fluxErr float64) float64 {
	if flux <= 0 {
		return math.NaN()
	}
	return PogsonFactor * fluxErr / flux
}
