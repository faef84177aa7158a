// ABOUTME: Collector configuration loaded from JSON or YAML documents
// ABOUTME: Applies defaults, parses human-readable heap sizes and validates every field

// Package config reads heapbridge settings.
package config

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/inhies/go-bytesize"
	"github.com/tidwall/gjson"
	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v2"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/collector"
	"github.com/prateek/heapbridge/internal/logging"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/scan"
	"github.com/prateek/heapbridge/work"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the collector settings.
type Config struct {
	FlushCapacity int    `yaml:"flush_capacity"`
	IndexGrowth   int    `yaml:"index_growth"`
	Workers       int    `yaml:"workers"`
	Plan          string `yaml:"plan"`
	HeapSize      string `yaml:"heap_size"`
	LogLevel      string `yaml:"log_level"`
	TagBits       int    `yaml:"tag_bits"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		FlushCapacity: scan.DefaultCapacity,
		IndexGrowth:   liveindex.DefaultGrowth,
		Workers:       work.DefaultWorkers,
		Plan:          collector.PlanMarkSweep,
		HeapSize:      "64MB",
		LogLevel:      "info",
		TagBits:       address.TagBits,
	}
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}

// Parse reads a JSON object or a YAML document. Missing fields keep their
// defaults. An empty document yields Default().
func Parse(data []byte) (Config, error) {
	cfg := Default()

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return cfg, nil
	}

	if data[0] == '{' {
		if !gjson.ValidBytes(data) {
			return Config{}, errors.Newf("invalid json: %q", data)
		}
		parseJSON(gjson.ParseBytes(data), &cfg)
	} else if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "invalid yaml")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseJSON(doc gjson.Result, cfg *Config) {
	ints := map[string]*int{
		"flush_capacity": &cfg.FlushCapacity,
		"index_growth":   &cfg.IndexGrowth,
		"workers":        &cfg.Workers,
		"tag_bits":       &cfg.TagBits,
	}
	for key, dst := range ints {
		if v := doc.Get(key); v.Exists() {
			*dst = int(v.Int())
		}
	}

	strs := map[string]*string{
		"plan":      &cfg.Plan,
		"heap_size": &cfg.HeapSize,
		"log_level": &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v := doc.Get(key); v.Exists() {
			*dst = v.String()
		}
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	if c.FlushCapacity <= 0 {
		return errors.Wrapf(ErrInvalid, "flush_capacity must be positive, got %d", c.FlushCapacity)
	}
	if c.IndexGrowth <= 0 {
		return errors.Wrapf(ErrInvalid, "index_growth must be positive, got %d", c.IndexGrowth)
	}
	if c.Workers <= 0 {
		return errors.Wrapf(ErrInvalid, "workers must be positive, got %d", c.Workers)
	}
	if c.TagBits != address.TagBits {
		return errors.Wrapf(ErrInvalid, "tag_bits must be %d, got %d", address.TagBits, c.TagBits)
	}
	switch c.Plan {
	case collector.PlanMarkSweep, collector.PlanSemiSpace:
	default:
		return errors.Wrapf(ErrInvalid, "unknown plan %q", c.Plan)
	}
	if _, err := c.HeapBytes(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return errors.Wrapf(ErrInvalid, "log_level: %v", err)
	}
	return nil
}

// HeapBytes returns HeapSize in bytes.
func (c Config) HeapBytes() (uintptr, error) {
	b, err := bytesize.Parse(c.HeapSize)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalid, "heap_size %q: %v", c.HeapSize, err)
	}
	if b < 1 {
		return 0, errors.Wrapf(ErrInvalid, "heap_size %q must be at least one byte", c.HeapSize)
	}
	return uintptr(b), nil
}

// Level returns the configured log level.
func (c Config) Level() (slog.Level, error) {
	return logging.ParseLevel(c.LogLevel)
}
