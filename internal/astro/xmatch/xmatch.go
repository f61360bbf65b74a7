// Package xmatch implements spatial cross-matching between two sets of sky
// positions: symmetric nearest-neighbour pairing within an angular
// tolerance, with deterministic tie-breaking.
//
// Candidate lookup uses a declination-sorted index so matching stays
// sub-quadratic on large catalogs; exact angular separations are computed
// only inside the declination band.
package xmatch

import (
	"math"
	"sort"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/catalog"
	"github.com/halo-data/lightcurve.report/internal/units"
)

// Point is one position in a match pass. Idx is the caller's index into the
// originating slice; it is also the stable secondary tie-break key.
type Point struct {
	RA, Dec float64 // degrees
	Idx     int
}

// Pair is one accepted match between input sets A and B, by caller index.
type Pair struct {
	A, B      int
	SepArcsec float64
	Quality   astro.MatchQuality
}

// Index is a read-only spatial index over set B, shareable across
// concurrent match passes.
type Index struct {
	pts []Point // sorted by Dec ascending, ties by Idx
}

// NewIndex builds an index over the given points. The input is copied.
func NewIndex(points []Point) *Index {
	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Dec != pts[j].Dec {
			return pts[i].Dec < pts[j].Dec
		}
		return pts[i].Idx < pts[j].Idx
	})
	return &Index{pts: pts}
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.pts) }

// Search visits every indexed point within radiusArcsec of (ra, dec).
func (ix *Index) Search(ra, dec, radiusArcsec float64, visit func(p Point, sepArcsec float64)) {
	radiusDeg := units.ArcsecToDeg(radiusArcsec)

	lo := sort.Search(len(ix.pts), func(i int) bool { return ix.pts[i].Dec >= dec-radiusDeg })
	for i := lo; i < len(ix.pts); i++ {
		p := ix.pts[i]
		if p.Dec > dec+radiusDeg {
			break
		}
		// RA prefilter with cos(dec) scaling; guarded near the poles where
		// the window degenerates and every band member must be checked.
		cosDec := math.Cos(units.DegToRad(dec))
		if cosDec > 1e-6 {
			if math.Abs(units.DeltaRA(p.RA, ra))*cosDec > radiusDeg*1.0001 {
				continue
			}
		}
		sep := units.SeparationArcsec(ra, dec, p.RA, p.Dec)
		if sep <= radiusArcsec {
			visit(p, sep)
		}
	}
}

// candidate is one A-to-B pairing under consideration.
type candidate struct {
	a, b int // caller indices
	sep  float64
}

// Match pairs each point of A with at most one indexed point of B within
// tolArcsec, and vice versa. Policy: globally smallest separation wins;
// the displaced point is re-matched against its next-best candidate or left
// unmatched. Ties break by separation, then A index, then B index, so the
// result is reproducible for identical inputs. Unmatched points simply do
// not appear in the output.
func Match(a []Point, ix *Index, tolArcsec float64) []Pair {
	if len(a) == 0 || ix.Len() == 0 {
		return nil
	}

	var cands []candidate
	firstChoice := make(map[int]int, len(a)) // A idx -> best B idx
	for _, pa := range a {
		best := -1
		bestSep := math.Inf(1)
		ix.Search(pa.RA, pa.Dec, tolArcsec, func(pb Point, sep float64) {
			cands = append(cands, candidate{a: pa.Idx, b: pb.Idx, sep: sep})
			if sep < bestSep || (sep == bestSep && pb.Idx < best) {
				best = pb.Idx
				bestSep = sep
			}
		})
		if best >= 0 {
			firstChoice[pa.Idx] = best
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].sep != cands[j].sep {
			return cands[i].sep < cands[j].sep
		}
		if cands[i].a != cands[j].a {
			return cands[i].a < cands[j].a
		}
		return cands[i].b < cands[j].b
	})

	usedA := make(map[int]bool, len(a))
	usedB := make(map[int]bool, ix.Len())
	var pairs []Pair
	for _, c := range cands {
		if usedA[c.a] || usedB[c.b] {
			continue
		}
		usedA[c.a] = true
		usedB[c.b] = true

		quality := astro.MatchHighConfidence
		// Wide separations and pairings displaced off their nearest
		// neighbour carry less identity confidence.
		if c.sep > tolArcsec/2 || firstChoice[c.a] != c.b {
			quality = astro.MatchLowConfidence
		}
		pairs = append(pairs, Pair{A: c.a, B: c.b, SepArcsec: c.sep, Quality: quality})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].A < pairs[j].A })
	return pairs
}

// SourcePoints adapts registered sources (HasSky set) for a match pass.
// Sources without sky coordinates are skipped.
func SourcePoints(sources []astro.Source) []Point {
	pts := make([]Point, 0, len(sources))
	for i, s := range sources {
		if !s.HasSky {
			continue
		}
		pts = append(pts, Point{RA: s.RA, Dec: s.Dec, Idx: i})
	}
	return pts
}

// EntryPoints adapts catalog entries for indexing.
func EntryPoints(entries []catalog.Entry) []Point {
	pts := make([]Point, len(entries))
	for i, e := range entries {
		pts[i] = Point{RA: e.RA, Dec: e.Dec, Idx: i}
	}
	return pts
}

// NewEntryIndex builds a shared index over catalog entries.
func NewEntryIndex(entries []catalog.Entry) *Index {
	return NewIndex(EntryPoints(entries))
}

// ToMatches resolves pairs back to Source/Entry references.
func ToMatches(pairs []Pair, sources []astro.Source, entries []catalog.Entry) []astro.Match {
	matches := make([]astro.Match, len(pairs))
	for i, p := range pairs {
		matches[i] = astro.Match{
			Source:    &sources[p.A],
			Entry:     &entries[p.B],
			SepArcsec: p.SepArcsec,
			Quality:   p.Quality,
		}
	}
	return matches
}
