// Package astro holds the shared domain types for the image-to-catalog
// pipeline: images, detected sources, cross-match pairs, calibration
// solutions, and per-image outcome records.
package astro

import (
	"time"

	"github.com/halo-data/lightcurve.report/internal/catalog"
	"github.com/halo-data/lightcurve.report/internal/wcs"
)

// Image describes one epoch's exposure. Immutable once ingested.
type Image struct {
	ID         string    `json:"id"`
	Epoch      time.Time `json:"epoch"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Instrument string    `json:"instrument,omitempty"`
	Band       string    `json:"band"`

	// InitialWCS is the rough pixel-to-sky guess from the telescope
	// pointing. A nil guess is a structurally invalid input.
	InitialWCS *wcs.Transform `json:"initial_wcs"`
}

// CenterSky returns the approximate sky position of the image center under
// the initial transform.
func (img Image) CenterSky() (ra, dec float64) {
	return img.InitialWCS.PixelToSky(float64(img.Width)/2, float64(img.Height)/2)
}

// Source is one detected candidate in one image. The extractor produces it
// with pixel coordinates; registration fills in sky coordinates. Calibrated
// magnitudes are derived records (Photometry), never written back here.
type Source struct {
	ImageID string `json:"image_id"`
	LocalID int    `json:"local_id"`

	// Pixel position
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Instrumental flux
	Flux    float64 `json:"flux"`
	FluxErr float64 `json:"flux_err"`

	// Shape: semi-major/minor axes (pixels) and position angle (degrees)
	SemiMajor float64 `json:"semi_major"`
	SemiMinor float64 `json:"semi_minor"`
	ThetaDeg  float64 `json:"theta_deg"`

	// Sky position, valid only when HasSky is set by registration.
	RA     float64 `json:"ra"`
	Dec    float64 `json:"dec"`
	HasSky bool    `json:"has_sky"`
}

// MatchQuality flags the confidence of a cross-match pairing.
type MatchQuality string

const (
	MatchHighConfidence MatchQuality = "high"
	MatchLowConfidence  MatchQuality = "low"
)

// Match pairs a detected source with a reference entry. Matches are
// ephemeral: produced fresh per matching pass, never persisted.
type Match struct {
	Source    *Source
	Entry     *catalog.Entry
	SepArcsec float64
	Quality   MatchQuality
}

// CalibrationSolution is the per-image instrumental-to-physical transform.
// One is produced for every registered image, even when the fit failed;
// Valid distinguishes "processed but untrustworthy" from "not processed".
type CalibrationSolution struct {
	ImageID string `json:"image_id"`
	Band    string `json:"band"`

	ZeroPoint    float64 `json:"zero_point"`
	ZeroPointErr float64 `json:"zero_point_err"`
	ColorTerm    float64 `json:"color_term"`
	FitColor     bool    `json:"fit_color"`

	RMS      float64 `json:"rms"`
	Accepted int     `json:"accepted"`
	Rejected int     `json:"rejected"`

	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Photometry is one calibrated measurement of a catalog object in one image.
type Photometry struct {
	ObjectID string    `json:"object_id"` // catalog identity from the cross-match
	ImageID  string    `json:"image_id"`
	Epoch    time.Time `json:"epoch"`

	Mag        float64 `json:"mag"`
	MagErr     float64 `json:"mag_err"`
	LowQuality bool    `json:"low_quality"`
}

// Outcome is the per-image result variant collected into the batch report.
type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeDetectionFailed    Outcome = "detection_failed"
	OutcomeRegistrationFailed Outcome = "registration_failed"
	OutcomeCalibrationInvalid Outcome = "calibration_invalid"
	OutcomeCatalogUnavailable Outcome = "catalog_unavailable"
	OutcomeTimedOut           Outcome = "timed_out"
)

// ImageResult records one image's trip through the pipeline.
type ImageResult struct {
	Index   int     `json:"index"`
	ImageID string  `json:"image_id"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`

	// Solution is present for every image that registered, valid or not.
	Solution *CalibrationSolution `json:"solution,omitempty"`

	// Points carries the calibrated measurements this image contributes to
	// assembly. Populated for succeeded and calibration-invalid images.
	Points []Photometry `json:"points,omitempty"`

	// Registration diagnostics
	SourceCount  int     `json:"source_count"`
	AnchorCount  int     `json:"anchor_count"`
	RegRMSArcsec float64 `json:"reg_rms_arcsec"`

	// Resumed is set when the result was replayed from storage instead of
	// reprocessed.
	Resumed bool `json:"resumed,omitempty"`
}
