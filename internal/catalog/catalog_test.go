package catalog

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string, ra, dec float64, band string, mag float64, star bool) Entry {
	return Entry{
		ID:     id,
		RA:     ra,
		Dec:    dec,
		Source: SourceGaia,
		Mags:   map[string]float64{band: mag},
		IsStar: star,
	}
}

func TestFixedQueryRegion(t *testing.T) {
	t.Parallel()

	cat := NewFixed([]Entry{
		entry("a", 150.0, 2.0, "G", 15.0, true),
		entry("b", 150.2, 2.0, "G", 16.0, true),
		entry("c", 151.5, 2.0, "G", 14.0, true),   // outside radius
		entry("d", 150.05, 2.05, "r", 15.5, true), // wrong band
	})

	got, err := cat.QueryRegion(context.Background(), 150.0, 2.0, 0.5, "G")
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("QueryRegion IDs mismatch (-want +got):\n%s", diff)
	}
}

func TestFixedQueryRegionCancelled(t *testing.T) {
	t.Parallel()

	cat := NewFixed([]Entry{entry("a", 150.0, 2.0, "G", 15.0, true)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cat.QueryRegion(ctx, 150.0, 2.0, 0.5, "G")
	assert.Error(t, err)
}

func TestStarsOnly(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		entry("star", 150.0, 2.0, "G", 15.0, true),
		entry("galaxy", 150.1, 2.0, "G", 17.0, false),
	}
	got := StarsOnly(entries)
	require.Len(t, got, 1)
	assert.Equal(t, "star", got[0].ID)
}

func TestEntryColor(t *testing.T) {
	t.Parallel()

	e := Entry{Mags: map[string]float64{"g": 16.2, "r": 15.7}}
	c, ok := e.Color("g", "r")
	require.True(t, ok)
	assert.InDelta(t, 0.5, c, 1e-12)

	_, ok = e.Color("g", "i")
	assert.False(t, ok)
}

func TestStellarDensity(t *testing.T) {
	t.Parallel()

	// Tight pair plus one isolated entry.
	entries := []Entry{
		entry("p1", 150.0, 2.0, "G", 15.0, true),
		entry("p2", 150.0, 2.01, "G", 15.5, true),
		entry("lone", 150.0, 3.5, "G", 16.0, true),
	}
	counts := StellarDensity(entries, 0.05)
	assert.Equal(t, []int{2, 2, 1}, counts)
}

func TestStellarDensityEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, StellarDensity(nil, 0.1))
}
