// Package catalog defines reference-catalog entries and the region-query
// contract to the external catalog service. Entries are read-only to the
// pipeline; the query collaborator owns them.
//
// Column naming follows the upstream survey conventions: Gaia DR sources
// carry a "G" magnitude, SDSS carries ugriz, 2MASS carries JHK.
package catalog

import (
	"context"
	"errors"
	"sort"

	"github.com/halo-data/lightcurve.report/internal/units"
)

// ErrCatalogUnavailable indicates the external catalog service could not be
// reached. The orchestrator records it as a per-image failure.
var ErrCatalogUnavailable = errors.New("catalog: service unavailable")

// Known catalog source names.
const (
	SourceGaia  = "gaia"
	SourceSDSS  = "sdss"
	Source2MASS = "2mass"
)

// Entry is a single reference-catalog object.
type Entry struct {
	ID     string  `json:"id"`
	RA     float64 `json:"ra"`  // degrees
	Dec    float64 `json:"dec"` // degrees
	Source string  `json:"source,omitempty"`

	// Mags holds physical magnitudes keyed by band (e.g. "G", "r", "J").
	Mags    map[string]float64 `json:"mags"`
	MagErrs map[string]float64 `json:"mag_errs,omitempty"`

	PosErrArcsec float64 `json:"pos_err_arcsec,omitempty"`
	IsStar       bool    `json:"is_star"`
}

// Mag returns the magnitude in the given band, and whether the entry has one.
func (e Entry) Mag(band string) (float64, bool) {
	m, ok := e.Mags[band]
	return m, ok
}

// MagErr returns the magnitude uncertainty in the given band, or 0 when the
// catalog does not report one.
func (e Entry) MagErr(band string) float64 {
	return e.MagErrs[band]
}

// Color returns the band1-band2 colour when both magnitudes are present.
func (e Entry) Color(band1, band2 string) (float64, bool) {
	m1, ok1 := e.Mags[band1]
	m2, ok2 := e.Mags[band2]
	if !ok1 || !ok2 {
		return 0, false
	}
	return m1 - m2, true
}

// Catalog is the external catalog-query collaborator: given a sky region
// (center plus radius) and a band, it returns the reference entries that
// carry a magnitude in that band.
type Catalog interface {
	QueryRegion(ctx context.Context, raDeg, decDeg, radiusDeg float64, band string) ([]Entry, error)
}

// Fixed is an in-memory Catalog, used for query results pinned to disk,
// synthetic fields, and tests.
type Fixed struct {
	Entries []Entry
}

// NewFixed returns a Fixed catalog over the given entries.
func NewFixed(entries []Entry) *Fixed {
	return &Fixed{Entries: entries}
}

// QueryRegion returns entries within radiusDeg of the center that have a
// magnitude in the requested band, in stable input order.
func (f *Fixed) QueryRegion(ctx context.Context, raDeg, decDeg, radiusDeg float64, band string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range f.Entries {
		if _, ok := e.Mag(band); !ok {
			continue
		}
		if units.Separation(raDeg, decDeg, e.RA, e.Dec) <= radiusDeg {
			out = append(out, e)
		}
	}
	return out, nil
}

// StarsOnly filters entries to stellar sources. Galaxies and unclassified
// objects make poor calibrators and astrometric anchors.
func StarsOnly(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsStar {
			out = append(out, e)
		}
	}
	return out
}

// StellarDensity returns per-entry neighbour counts within the given angular
// radius (degrees), including the entry itself. Used to diagnose crowded
// fields in batch reports.
func StellarDensity(entries []Entry, radiusDeg float64) []int {
	n := len(entries)
	counts := make([]int, n)
	if n == 0 {
		return counts
	}

	// Sort indices by Dec so each entry only scans its declination band.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return entries[order[a]].Dec < entries[order[b]].Dec })

	for pos, i := range order {
		counts[i]++ // self
		for q := pos + 1; q < n; q++ {
			j := order[q]
			if entries[j].Dec-entries[i].Dec > radiusDeg {
				break
			}
			if units.Separation(entries[i].RA, entries[i].Dec, entries[j].RA, entries[j].Dec) <= radiusDeg {
				counts[i]++
				counts[j]++
			}
		}
	}
	return counts
}
