package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultExcludeFragments lists series directories the header reader cannot
// parse and that carry nothing worth cataloguing. Layout assumed is
// PatientID/Study Description/Series Description.
var DefaultExcludeFragments = []string{
	"[CT - KEY IMAGES]",
	"[PT - KEY IMAGES]",
	"[NM - SAVE SCREENS]",
}

// Config holds all configuration loaded from config.yaml.
type Config struct {
	Roots            []string `yaml:"roots"             json:"roots"`
	TrialArm         string   `yaml:"trial_arm"         json:"trial_arm"`
	ExcludeFragments []string `yaml:"exclude_fragments" json:"exclude_fragments"`
	Workers          int      `yaml:"workers"           json:"workers"`
	DBPath           string   `yaml:"db_path"           json:"-"`
	HTTPAddr         string   `yaml:"http_addr"         json:"-"`
	Schedule         string   `yaml:"schedule"          json:"schedule"`
	LogLevel         string   `yaml:"log_level"         json:"-"`
	LogFile          string   `yaml:"log_file"          json:"-"`
	Store            Store    `yaml:"store"             json:"store"`
}

// Store holds the knobs for SQLite write contention handling.
type Store struct {
	MaxRetries     int           `yaml:"max_retries"     json:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"     json:"max_backoff"`
	BusyTimeoutMs  int           `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
}

// DefaultWorkers is half the available CPUs, at least one. The scanners share
// a single-writer store, so more workers than that mostly adds contention.
func DefaultWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ExcludeFragments == nil {
		c.ExcludeFragments = append([]string(nil), DefaultExcludeFragments...)
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers()
	}
	if c.DBPath == "" {
		c.DBPath = "./catalog.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.MaxRetries == 0 {
		c.Store.MaxRetries = 8
	}
	if c.Store.InitialBackoff == 0 {
		c.Store.InitialBackoff = 25 * time.Millisecond
	}
	if c.Store.MaxBackoff == 0 {
		c.Store.MaxBackoff = 2 * time.Second
	}
	if c.Store.BusyTimeoutMs == 0 {
		c.Store.BusyTimeoutMs = 5000
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so a crawl can be
// driven entirely from command-line flags.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Validate reports whether the config carries enough to run a crawl.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Roots) == 0 {
		errs = append(errs, errors.New("no roots configured"))
	}
	if c.TrialArm == "" {
		errs = append(errs, errors.New("trial_arm is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	return errors.Join(errs...)
}
