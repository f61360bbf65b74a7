package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the pipeline tuning parameters. Fields are pointers so
// partial JSON configs leave omitted values at their defaults, which the
// Get* accessors provide.
type TuningConfig struct {
	// Extraction params
	MinSNR *float64 `json:"min_snr,omitempty"`

	// Registration params
	MinAnchors            *int     `json:"min_anchors,omitempty"`
	MaxRegisterIterations *int     `json:"max_register_iterations,omitempty"`
	AnchorToleranceArcsec *float64 `json:"anchor_tolerance_arcsec,omitempty"`

	// Cross-match params
	MatchToleranceArcsec *float64 `json:"match_tolerance_arcsec,omitempty"`

	// Calibration params
	MinCalibMatches    *int     `json:"min_calib_matches,omitempty"`
	SigmaClip          *float64 `json:"sigma_clip,omitempty"`
	MaxCalibIterations *int     `json:"max_calib_iterations,omitempty"`
	FitColorTerm       *bool    `json:"fit_color_term,omitempty"`
	ColorBand1         *string  `json:"color_band_1,omitempty"`
	ColorBand2         *string  `json:"color_band_2,omitempty"`

	// Catalog params
	RegionRadiusDeg *float64 `json:"region_radius_deg,omitempty"`
	StarsOnly       *bool    `json:"stars_only,omitempty"`

	// Orchestration params
	Workers         *int    `json:"workers,omitempty"`
	PerImageTimeout *string `json:"per_image_timeout,omitempty"` // duration string like "30s"
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.MinSNR != nil && *c.MinSNR < 0 {
		return fmt.Errorf("min_snr must be non-negative, got %f", *c.MinSNR)
	}
	if c.MinAnchors != nil && *c.MinAnchors < 3 {
		return fmt.Errorf("min_anchors must be at least 3, got %d", *c.MinAnchors)
	}
	if c.MatchToleranceArcsec != nil && *c.MatchToleranceArcsec <= 0 {
		return fmt.Errorf("match_tolerance_arcsec must be positive, got %f", *c.MatchToleranceArcsec)
	}
	if c.AnchorToleranceArcsec != nil && *c.AnchorToleranceArcsec <= 0 {
		return fmt.Errorf("anchor_tolerance_arcsec must be positive, got %f", *c.AnchorToleranceArcsec)
	}
	if c.SigmaClip != nil && *c.SigmaClip <= 0 {
		return fmt.Errorf("sigma_clip must be positive, got %f", *c.SigmaClip)
	}
	if c.MinCalibMatches != nil && *c.MinCalibMatches < 2 {
		return fmt.Errorf("min_calib_matches must be at least 2, got %d", *c.MinCalibMatches)
	}
	if c.FitColorTerm != nil && *c.FitColorTerm {
		if c.ColorBand1 == nil || c.ColorBand2 == nil {
			return fmt.Errorf("fit_color_term requires color_band_1 and color_band_2")
		}
	}
	if c.PerImageTimeout != nil && *c.PerImageTimeout != "" {
		if _, err := time.ParseDuration(*c.PerImageTimeout); err != nil {
			return fmt.Errorf("invalid per_image_timeout '%s': %w", *c.PerImageTimeout, err)
		}
	}
	return nil
}

// GetMinSNR returns the min_snr value or the default.
func (c *TuningConfig) GetMinSNR() float64 {
	if c.MinSNR == nil {
		return 5.0
	}
	return *c.MinSNR
}

// GetMinAnchors returns the min_anchors value or the default.
func (c *TuningConfig) GetMinAnchors() int {
	if c.MinAnchors == nil {
		return 4
	}
	return *c.MinAnchors
}

// GetMaxRegisterIterations returns the max_register_iterations value or the default.
func (c *TuningConfig) GetMaxRegisterIterations() int {
	if c.MaxRegisterIterations == nil {
		return 10
	}
	return *c.MaxRegisterIterations
}

// GetAnchorToleranceArcsec returns the anchor_tolerance_arcsec value or the default.
func (c *TuningConfig) GetAnchorToleranceArcsec() float64 {
	if c.AnchorToleranceArcsec == nil {
		return 2.0
	}
	return *c.AnchorToleranceArcsec
}

// GetMatchToleranceArcsec returns the match_tolerance_arcsec value or the default.
func (c *TuningConfig) GetMatchToleranceArcsec() float64 {
	if c.MatchToleranceArcsec == nil {
		return 1.5
	}
	return *c.MatchToleranceArcsec
}

// GetMinCalibMatches returns the min_calib_matches value or the default.
func (c *TuningConfig) GetMinCalibMatches() int {
	if c.MinCalibMatches == nil {
		return 5
	}
	return *c.MinCalibMatches
}

// GetSigmaClip returns the sigma_clip value or the default.
func (c *TuningConfig) GetSigmaClip() float64 {
	if c.SigmaClip == nil {
		return 3.0
	}
	return *c.SigmaClip
}

// GetMaxCalibIterations returns the max_calib_iterations value or the default.
func (c *TuningConfig) GetMaxCalibIterations() int {
	if c.MaxCalibIterations == nil {
		return 10
	}
	return *c.MaxCalibIterations
}

// GetFitColorTerm returns the fit_color_term value or the default.
func (c *TuningConfig) GetFitColorTerm() bool {
	if c.FitColorTerm == nil {
		return false
	}
	return *c.FitColorTerm
}

// GetColorBand1 returns the color_band_1 value or the default.
func (c *TuningConfig) GetColorBand1() string {
	if c.ColorBand1 == nil {
		return ""
	}
	return *c.ColorBand1
}

// GetColorBand2 returns the color_band_2 value or the default.
func (c *TuningConfig) GetColorBand2() string {
	if c.ColorBand2 == nil {
		return ""
	}
	return *c.ColorBand2
}

// GetRegionRadiusDeg returns the region_radius_deg value or the default.
// Zero means "derive from the image footprint".
func (c *TuningConfig) GetRegionRadiusDeg() float64 {
	if c.RegionRadiusDeg == nil {
		return 0
	}
	return *c.RegionRadiusDeg
}

// GetStarsOnly returns the stars_only value or the default.
func (c *TuningConfig) GetStarsOnly() bool {
	if c.StarsOnly == nil {
		return true
	}
	return *c.StarsOnly
}

// GetWorkers returns the workers value or the default. Zero means one
// worker per CPU.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetPerImageTimeout parses and returns the per_image_timeout as a
// time.Duration. Zero disables the per-image timeout.
func (c *TuningConfig) GetPerImageTimeout() time.Duration {
	if c.PerImageTimeout == nil || *c.PerImageTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.PerImageTimeout)
	if err != nil {
		return 0
	}
	return d
}
