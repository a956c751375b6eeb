// Package config holds the tunables of a psbox run. Every field has a
// default; a YAML file can override any of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/SAWassermann/DisNETPerf/retry"
)

type Config struct {
	Data      DataConfig      `yaml:"data"`
	Output    OutputConfig    `yaml:"output"`
	Journal   JournalConfig   `yaml:"journal"`
	API       APIConfig       `yaml:"api"`
	Selection SelectionConfig `yaml:"selection"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Polling   PollingConfig   `yaml:"polling"`
	Results   ResultsConfig   `yaml:"results"`
}

type DataConfig struct {
	Ranges     string `yaml:"ranges"`
	Neighbours string `yaml:"neighbours"`
	Fleet      string `yaml:"fleet"`
	InputDir   string `yaml:"input_dir"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type JournalConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

type APIConfig struct {
	BaseURL   string  `yaml:"base_url"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
	IPVersion int     `yaml:"ip_version"`
}

// RetryConfig is an attempt budget with a fixed delay between attempts.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Policy converts the settings to a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{Attempts: r.Attempts, Delay: r.Delay}
}

type SelectionConfig struct {
	RandomProbes int         `yaml:"random_probes"`
	Lookup       RetryConfig `yaml:"lookup"`
}

type DispatchConfig struct {
	BatchSize     int         `yaml:"batch_size"`
	Packets       int         `yaml:"packets"`
	Create        RetryConfig `yaml:"create"`
	HaltOnAbandon *bool       `yaml:"halt_on_abandon"`
}

type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
	Status   RetryConfig   `yaml:"status"`
}

type ResultsConfig struct {
	Fetch       RetryConfig `yaml:"fetch"`
	Concurrency int         `yaml:"concurrency"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := Config{}
	cfg.Selection.Lookup = RetryConfig{Attempts: 5, Delay: 30 * time.Second}
	cfg.Dispatch.Create = RetryConfig{Attempts: 5, Delay: 180 * time.Second}
	cfg.Polling.Status = RetryConfig{Attempts: 5}
	cfg.Results.Fetch = RetryConfig{Attempts: 5, Delay: 30 * time.Second}
	cfg.applyDefaults()
	return &cfg
}

// Load reads a YAML configuration file. An empty path returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Keys missing from the file keep their default, so a retry block
	// that only sets the delay still gets the default attempt count.
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// HaltOnAbandon reports whether the first abandoned target stops
// dispatching for the rest of the run.
func (c *Config) HaltOnAbandon() bool {
	return c.Dispatch.HaltOnAbandon == nil || *c.Dispatch.HaltOnAbandon
}

func (c *Config) applyDefaults() {
	if c.Data.Ranges == "" {
		c.Data.Ranges = "lib/GeoIPASNum2.csv"
	}
	if c.Data.Neighbours == "" {
		c.Data.Neighbours = "lib/ASNeighbours.txt"
	}
	if c.Data.Fleet == "" {
		c.Data.Fleet = "lib/probelist.txt"
	}
	if c.Data.InputDir == "" {
		c.Data.InputDir = "input"
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	if c.Journal.Backend == "" {
		c.Journal.Backend = "file"
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "logs"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://atlas.ripe.net/api/v2"
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = 10
	}
	if c.API.Burst == 0 {
		c.API.Burst = 5
	}
	if c.Selection.RandomProbes == 0 {
		c.Selection.RandomProbes = 100
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 500
	}
	if c.Dispatch.Packets == 0 {
		c.Dispatch.Packets = 10
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = 180 * time.Second
	}
	if c.Results.Concurrency == 0 {
		c.Results.Concurrency = 4
	}
}

func (c *Config) validate() error {
	var errs []error
	switch c.Journal.Backend {
	case "file", "badger":
	default:
		errs = append(errs, fmt.Errorf("journal.backend %q: must be file or badger", c.Journal.Backend))
	}
	switch c.API.IPVersion {
	case 0, 4, 6:
	default:
		errs = append(errs, fmt.Errorf("api.ip_version %d: must be 0, 4 or 6", c.API.IPVersion))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}
	if c.Selection.RandomProbes < 0 {
		errs = append(errs, errors.New("selection.random_probes must not be negative"))
	}
	if c.Dispatch.BatchSize < 0 || c.Dispatch.BatchSize > 500 {
		errs = append(errs, fmt.Errorf("dispatch.batch_size %d: must be between 1 and 500", c.Dispatch.BatchSize))
	}
	if c.Dispatch.Packets < 0 || c.Dispatch.Packets > 16 {
		errs = append(errs, fmt.Errorf("dispatch.packets %d: must be between 1 and 16", c.Dispatch.Packets))
	}
	for name, r := range map[string]RetryConfig{
		"selection.lookup": c.Selection.Lookup,
		"dispatch.create":  c.Dispatch.Create,
		"polling.status":   c.Polling.Status,
		"results.fetch":    c.Results.Fetch,
	} {
		if r.Attempts < 1 {
			errs = append(errs, fmt.Errorf("%s.attempts %d: must be at least 1", name, r.Attempts))
		}
		if r.Delay < 0 {
			errs = append(errs, fmt.Errorf("%s.delay must not be negative", name))
		}
	}
	if c.Polling.Interval < 0 {
		errs = append(errs, errors.New("polling.interval must not be negative"))
	}
	if c.Results.Concurrency < 0 {
		errs = append(errs, errors.New("results.concurrency must not be negative"))
	}
	return multierr.Combine(errs...)
}
