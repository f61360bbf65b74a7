// Package lightcurve assembles calibrated per-epoch measurements into
// per-object time series for the external fitting collaborator.
//
// Object identity is the reference-catalog identifier resolved at match
// time; it is never reassigned. A sparse series is a valid series: objects
// absent from an epoch simply have no point there, and low-quality points
// are flagged rather than suppressed — suppression is a fitting decision.
package lightcurve

import (
	"sort"
	"time"

	"github.com/halo-data/lightcurve.report/internal/astro"
)

// TimePoint is one epoch's calibrated measurement of an object.
type TimePoint struct {
	Epoch      time.Time `json:"epoch"`
	ImageID    string    `json:"image_id"`
	Mag        float64   `json:"mag"`
	MagErr     float64   `json:"mag_err"`
	LowQuality bool      `json:"low_quality"`
}

// ObjectRecord is the cross-epoch time series for one catalog object,
// strictly ordered by epoch with no duplicate epochs.
type ObjectRecord struct {
	ObjectID string      `json:"object_id"`
	Points   []TimePoint `json:"points"`
}

// Span returns the time covered by the record's points.
func (r ObjectRecord) Span() time.Duration {
	if len(r.Points) < 2 {
		return 0
	}
	return r.Points[len(r.Points)-1].Epoch.Sub(r.Points[0].Epoch)
}

// Assemble merges the calibrated measurements of the per-image results into
// epoch-ordered ObjectRecords. Results that contributed no points (failed
// detection, failed registration) are simply skipped; a batch where every
// image failed yields an empty, valid output. Records are returned in
// object-identifier order for reproducibility.
func Assemble(results []astro.ImageResult) []ObjectRecord {
	byObject := make(map[string][]TimePoint)
	for _, res := range results {
		for _, p := range res.Points {
			byObject[p.ObjectID] = append(byObject[p.ObjectID], TimePoint{
				Epoch:      p.Epoch,
				ImageID:    p.ImageID,
				Mag:        p.Mag,
				MagErr:     p.MagErr,
				LowQuality: p.LowQuality,
			})
		}
	}

	records := make([]ObjectRecord, 0, len(byObject))
	for id, points := range byObject {
		sort.Slice(points, func(i, j int) bool { return points[i].Epoch.Before(points[j].Epoch) })

		// Enforce the no-duplicate-epoch invariant: the first point for an
		// epoch wins; later duplicates would mean the same object was
		// resolved twice in one image.
		deduped := points[:0:0]
		for _, p := range points {
			if len(deduped) > 0 && p.Epoch.Equal(deduped[len(deduped)-1].Epoch) {
				astro.Opsf("[Assemble] object %s: duplicate epoch %s dropped (image %s)",
					id, p.Epoch.Format(time.RFC3339), p.ImageID)
				continue
			}
			deduped = append(deduped, p)
		}
		records = append(records, ObjectRecord{ObjectID: id, Points: deduped})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ObjectID < records[j].ObjectID })
	return records
}
