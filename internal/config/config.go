package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"nsocal/internal/audience"
	"nsocal/internal/capture"
	"nsocal/internal/fetch"
	"nsocal/internal/ics"
)

// NOTE: Load creates the file with defaults on first run, and Save writes
// atomically with 0600 permissions.

// Default output layout. Calendar subscribers depend on these names.
const (
	DefaultOutputDir = "./output_calendars"

	GeneralCalendarFile  = "general_calendar.ics"
	ExchangeCalendarFile = "exchange_igsp_events.ics"
	TransferCalendarFile = "transfer_events.ics"
)

// PartitionConfig describes one output calendar.
type PartitionConfig struct {
	// Name is written as the calendar's display name (X-WR-CALNAME).
	Name string `yaml:"name" json:"name"`
	// File is the bare file name under OutputDir.
	File string `yaml:"file" json:"file"`
	// Audiences selects events whose audience intersects this list, using
	// the site's badge labels (e.g. "Transfer", "ANY"). Empty selects all.
	Audiences []string `yaml:"audiences,omitempty" json:"audiences,omitempty"`
}

// AudienceSet parses Audiences.
func (p PartitionConfig) AudienceSet() (audience.Set, error) {
	return audience.ParseSet(p.Audiences)
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the calendar server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// SourceURL is the events listing page.
	SourceURL string `yaml:"source_url" json:"source_url"`

	// OutputDir receives one .ics file per partition.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// Timezone is the IANA zone events are published in (e.g. "America/New_York").
	Timezone string `yaml:"timezone" json:"timezone"`

	// ProductID is the PRODID of generated calendars.
	ProductID string `yaml:"product_id" json:"product_id"`

	// Workers and BatchSize bound page fetching: at most Workers browsers,
	// each loading BatchSize pages.
	Workers   int `yaml:"workers" json:"workers"`
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// FetchTimeout bounds one event page load; zero means no limit.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`

	// Retries is the number of extra attempts for a failed page load.
	Retries int `yaml:"retries" json:"retries"`

	// ChromePath overrides the Chromium binary.
	ChromePath string `yaml:"chrome_path,omitempty" json:"chrome_path,omitempty"`

	// Refresh is a cron-style schedule (e.g. "0 */6 * * *") used by serve.
	Refresh string `yaml:"refresh" json:"refresh"`

	// Listen is the HTTP listen address used by serve.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Partitions lists the calendars to produce.
	Partitions []PartitionConfig `yaml:"partitions" json:"partitions"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultPartitions reproduces the published calendar files.
func DefaultPartitions() []PartitionConfig {
	return []PartitionConfig{
		{Name: "NSO Events", File: GeneralCalendarFile},
		{Name: "NSO Events: Exchange/IGSP", File: ExchangeCalendarFile, Audiences: []string{"Exchange/IGSP", "ANY"}},
		{Name: "NSO Events: Transfer", File: TransferCalendarFile, Audiences: []string{"Transfer", "ANY"}},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		SourceURL:  capture.DefaultListingURL,
		OutputDir:  DefaultOutputDir,
		Timezone:   ics.DefaultTimezone,
		ProductID:  ics.DefaultProductID,
		Workers:    fetch.DefaultWorkers,
		BatchSize:  fetch.DefaultBatchSize,
		Refresh:    "0 */6 * * *",
		Listen:     "127.0.0.1:8080",
		LogLevel:   "info",
		Partitions: DefaultPartitions(),
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.SourceURL == "" {
		c.SourceURL = d.SourceURL
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.ProductID == "" {
		c.ProductID = d.ProductID
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FetchTimeout < 0 {
		c.FetchTimeout = 0
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Refresh == "" {
		c.Refresh = d.Refresh
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if len(c.Partitions) == 0 {
		c.Partitions = d.Partitions
	}
}

// Validate checks values Normalize cannot fix.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	seen := make(map[string]bool, len(c.Partitions))
	for i, p := range c.Partitions {
		if p.File == "" {
			errs = append(errs, fmt.Errorf("partitions[%d]: file is empty", i))
		} else if p.File != filepath.Base(p.File) {
			errs = append(errs, fmt.Errorf("partitions[%d]: file %q must be a bare file name", i, p.File))
		}
		if seen[p.File] {
			errs = append(errs, fmt.Errorf("partitions[%d]: duplicate file %q", i, p.File))
		}
		seen[p.File] = true
		if _, err := p.AudienceSet(); err != nil {
			errs = append(errs, fmt.Errorf("partitions[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".nsocal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
