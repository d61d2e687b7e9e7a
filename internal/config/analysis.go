package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/bledoubt/internal/classifier"
)

// DefaultConfigPath is the path to the canonical analysis defaults file.
const DefaultConfigPath = "config/analysis.defaults.json"

// Built-in fallbacks used when a field is absent from the JSON.
const (
	defaultAnalysisInterval = 15 * time.Minute
	defaultNearbyWindow     = 60 * time.Second
	defaultMaxBLERange      = 10.0
)

// AnalysisConfig holds the classifier thresholds and scheduling settings.
// Every field is optional; the Get* methods supply defaults, so partial
// configs are safe.
type AnalysisConfig struct {
	EpsilonSeconds     *float64 `json:"epsilon_seconds,omitempty"`
	MinDiameterMeters  *float64 `json:"min_diameter_meters,omitempty"`
	MinDurationSeconds *float64 `json:"min_duration_seconds,omitempty"`

	AnalysisInterval *string `json:"analysis_interval,omitempty"` // duration string like "15m"
	NearbyWindow     *string `json:"nearby_window,omitempty"`     // duration string like "60s"

	// Reports whose estimated range exceeds this are discarded on ingest.
	MaxBLERangeMeters *float64 `json:"max_ble_range_meters,omitempty"`

	// Analysis worker pool size; 0 means one per CPU.
	Workers *int `json:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultAnalysisConfig returns a fully populated config with the built-in
// defaults, matching config/analysis.defaults.json.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		EpsilonSeconds:     ptrFloat64(classifier.DefaultEpsilonSeconds),
		MinDiameterMeters:  ptrFloat64(classifier.DefaultMinDiameterMeters),
		MinDurationSeconds: ptrFloat64(classifier.DefaultMinDurationSeconds),
		AnalysisInterval:   ptrString(defaultAnalysisInterval.String()),
		NearbyWindow:       ptrString(defaultNearbyWindow.String()),
		MaxBLERangeMeters:  ptrFloat64(defaultMaxBLERange),
		Workers:            ptrInt(0),
	}
}

// LoadAnalysisConfig loads an AnalysisConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
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

	cfg := &AnalysisConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *AnalysisConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/x/
	}
	for _, path := range candidates {
		if cfg, err := LoadAnalysisConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func nonNegative(name string, v *float64) error {
	if v != nil && (math.IsNaN(*v) || *v < 0) {
		return fmt.Errorf("%s must be non-negative, got %v", name, *v)
	}
	return nil
}

func positiveDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *AnalysisConfig) Validate() error {
	for _, check := range []error{
		nonNegative("epsilon_seconds", c.EpsilonSeconds),
		nonNegative("min_diameter_meters", c.MinDiameterMeters),
		nonNegative("min_duration_seconds", c.MinDurationSeconds),
		nonNegative("max_ble_range_meters", c.MaxBLERangeMeters),
		positiveDuration("analysis_interval", c.AnalysisInterval),
		positiveDuration("nearby_window", c.NearbyWindow),
	} {
		if check != nil {
			return check
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// Classifier returns the classifier thresholds.
func (c *AnalysisConfig) Classifier() classifier.Params {
	return classifier.Params{
		EpsilonSeconds:     c.GetEpsilonSeconds(),
		MinDiameterMeters:  c.GetMinDiameterMeters(),
		MinDurationSeconds: c.GetMinDurationSeconds(),
	}
}

// GetEpsilonSeconds returns the epsilon_seconds value or the default.
func (c *AnalysisConfig) GetEpsilonSeconds() float64 {
	if c.EpsilonSeconds == nil {
		return classifier.DefaultEpsilonSeconds
	}
	return *c.EpsilonSeconds
}

// GetMinDiameterMeters returns the min_diameter_meters value or the default.
func (c *AnalysisConfig) GetMinDiameterMeters() float64 {
	if c.MinDiameterMeters == nil {
		return classifier.DefaultMinDiameterMeters
	}
	return *c.MinDiameterMeters
}

// GetMinDurationSeconds returns the min_duration_seconds value or the default.
func (c *AnalysisConfig) GetMinDurationSeconds() float64 {
	if c.MinDurationSeconds == nil {
		return classifier.DefaultMinDurationSeconds
	}
	return *c.MinDurationSeconds
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetAnalysisInterval returns the analysis_interval value or the default.
func (c *AnalysisConfig) GetAnalysisInterval() time.Duration {
	return parseDurationOr(c.AnalysisInterval, defaultAnalysisInterval)
}

// GetNearbyWindow returns the nearby_window value or the default.
func (c *AnalysisConfig) GetNearbyWindow() time.Duration {
	return parseDurationOr(c.NearbyWindow, defaultNearbyWindow)
}

// GetMaxBLERangeMeters returns the max_ble_range_meters value or the default.
func (c *AnalysisConfig) GetMaxBLERangeMeters() float64 {
	if c.MaxBLERangeMeters == nil {
		return defaultMaxBLERange
	}
	return *c.MaxBLERangeMeters
}

// GetWorkers returns the workers value or 0.
func (c *AnalysisConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}
