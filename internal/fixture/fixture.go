// Package fixture builds and replays synthetic observation sets. A fixture
// file carries a reference catalog plus per-image detection lists, so the
// whole pipeline can run without an imaging backend.
package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/astro/extract"
	"github.com/halo-data/lightcurve.report/internal/catalog"
)

// ImageFixture pairs an image header with the measurements a detector
// would report for it.
type ImageFixture struct {
	Image         astro.Image           `json:"image"`
	Measurements  []extract.Measurement `json:"measurements"`
	FailDetection bool                  `json:"fail_detection,omitempty"`
}

// File is a complete synthetic observation set.
type File struct {
	Band    string          `json:"band"`
	Entries []catalog.Entry `json:"entries"`
	Images  []ImageFixture  `json:"images"`
}

// Load reads a fixture file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture JSON: %w", err)
	}
	return &f, nil
}

// Save writes a fixture file to disk.
func Save(path string, f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write fixture file: %w", err)
	}
	return nil
}

// ImageList returns the image headers in fixture order.
func (f *File) ImageList() []astro.Image {
	images := make([]astro.Image, len(f.Images))
	for i, fx := range f.Images {
		images[i] = fx.Image
	}
	return images
}

// Catalog returns a fixed in-memory catalog over the fixture's entries.
func (f *File) Catalog() *catalog.Fixed {
	return catalog.NewFixed(f.Entries)
}

// Detector replays the measurement lists recorded in a fixture file.
type Detector struct {
	byID map[string]*ImageFixture
}

// NewDetector builds a Detector over the fixture's images.
func NewDetector(f *File) *Detector {
	byID := make(map[string]*ImageFixture, len(f.Images))
	for i := range f.Images {
		byID[f.Images[i].Image.ID] = &f.Images[i]
	}
	return &Detector{byID: byID}
}

// Detect returns the recorded measurements for the image, or an error when
// the fixture marks the image as failing or does not know it.
func (d *Detector) Detect(ctx context.Context, img astro.Image) ([]extract.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fx, ok := d.byID[img.ID]
	if !ok {
		return nil, fmt.Errorf("no fixture data for image %s", img.ID)
	}
	if fx.FailDetection {
		return nil, fmt.Errorf("simulated detector fault on image %s", img.ID)
	}
	out := make([]extract.Measurement, len(fx.Measurements))
	copy(out, fx.Measurements)
	return out, nil
}
