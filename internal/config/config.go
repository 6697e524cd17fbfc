// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the harvester.
//
// Configuration comes from a TOML file with sensible defaults and
// environment variable overrides. File locations, in order of
// precedence:
//   - ./harvester.toml
//   - ~/.harvester/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete harvester configuration.
type Config struct {
	// Engine settings
	Engine EngineConfig `toml:"engine"`

	// Scrape holds the per-task extraction defaults
	Scrape ScrapeConfig `toml:"scrape"`

	// Storage settings
	Storage StorageConfig `toml:"storage"`

	// Export settings
	Export ExportConfig `toml:"export"`
}

// EngineConfig contains worker pool and pacing settings.
type EngineConfig struct {
	// MaxWorkers bounds concurrently active tasks
	MaxWorkers int `toml:"max_workers"`

	// RequestsPerSecond bounds the aggregate fetch rate (0 = unpaced)
	RequestsPerSecond float64 `toml:"requests_per_second"`

	// Burst is the pacer burst size
	Burst int `toml:"burst"`
}

// ScrapeConfig contains the default extraction settings applied to
// tasks created without explicit values.
type ScrapeConfig struct {
	// MaxItems bounds items per task (0 = no limit)
	MaxItems int `toml:"max_items"`

	// DelayMinMS / DelayMaxMS bound the randomized pre-fetch pause
	DelayMinMS int `toml:"delay_min_ms"`
	DelayMaxMS int `toml:"delay_max_ms"`

	// TimeoutMS bounds a single fetch
	TimeoutMS int `toml:"timeout_ms"`

	// MaxRetries is the transient-error retry budget
	MaxRetries int `toml:"max_retries"`

	// Headless controls browser-backed fetchers
	Headless bool `toml:"headless"`

	// UserAgent is sent by the HTTP fetcher
	UserAgent string `toml:"user_agent"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	// DatabasePath is the SQLite file; empty selects the in-memory store
	DatabasePath string `toml:"database_path"`
}

// ExportConfig contains artifact settings.
type ExportConfig struct {
	// OutputDir is where export artifacts are written
	OutputDir string `toml:"output_dir"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxWorkers:        3,
			RequestsPerSecond: 1,
			Burst:             1,
		},
		Scrape: ScrapeConfig{
			MaxItems:   100,
			DelayMinMS: 1000,
			DelayMaxMS: 3000,
			TimeoutMS:  30000,
			MaxRetries: 3,
			Headless:   true,
		},
		Storage: StorageConfig{
			DatabasePath: defaultDatabasePath(),
		},
		Export: ExportConfig{
			OutputDir: "exports",
		},
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "harvester.db"
	}
	return filepath.Join(home, ".harvester", "harvester.db")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the standard locations, applies
// environment overrides, and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadTOML(cfg, path); err != nil {
			return nil, err
		}
		break
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads configuration from an explicit file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := loadTOML(cfg, path); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func searchPaths() []string {
	paths := []string{"harvester.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".harvester", "config.toml"))
	}
	return paths
}

func loadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides layers HARVESTER_* environment variables on top of
// file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HARVESTER_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxWorkers = n
		}
	}
	if v := os.Getenv("HARVESTER_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("HARVESTER_DATABASE_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("HARVESTER_EXPORT_DIR"); v != "" {
		cfg.Export.OutputDir = v
	}
	if v := os.Getenv("HARVESTER_HEADLESS"); v != "" {
		cfg.Scrape.Headless = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("HARVESTER_USER_AGENT"); v != "" {
		cfg.Scrape.UserAgent = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates all validation failures.
type ValidateErrors []ValidationError

// Error implements the error interface.
func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks all configured ranges and returns every violation.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Engine.MaxWorkers < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.max_workers",
			Message: "must be at least 1",
		})
	}
	if c.Engine.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.requests_per_second",
			Message: "cannot be negative",
		})
	}
	if c.Scrape.MaxItems < 0 {
		errs = append(errs, ValidationError{
			Field:   "scrape.max_items",
			Message: "cannot be negative",
		})
	}
	if c.Scrape.DelayMinMS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scrape.delay_min_ms",
			Message: "must be positive",
		})
	}
	if c.Scrape.DelayMaxMS < c.Scrape.DelayMinMS {
		errs = append(errs, ValidationError{
			Field:   "scrape.delay_max_ms",
			Message: "must be >= delay_min_ms",
		})
	}
	if c.Scrape.TimeoutMS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scrape.timeout_ms",
			Message: "must be positive",
		})
	}
	if c.Scrape.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "scrape.max_retries",
			Message: "cannot be negative",
		})
	}
	if c.Export.OutputDir == "" {
		errs = append(errs, ValidationError{
			Field:   "export.output_dir",
			Message: "is required",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// CONVERSION
// =============================================================================

// DelayMin returns the minimum pre-fetch delay as a duration.
func (s ScrapeConfig) DelayMin() time.Duration {
	return time.Duration(s.DelayMinMS) * time.Millisecond
}

// DelayMax returns the maximum pre-fetch delay as a duration.
func (s ScrapeConfig) DelayMax() time.Duration {
	return time.Duration(s.DelayMaxMS) * time.Millisecond
}

// Timeout returns the per-fetch timeout as a duration.
func (s ScrapeConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}
