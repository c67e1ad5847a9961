// Package config loads tabletop settings from TOML or YAML files and the
// environment, and watches the file for live changes.
//
// Precedence, lowest to highest: defaults, config file, TABLETOP_*
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/tabletop/internal/engine/history"
	"github.com/dshills/tabletop/internal/engine/replay"
)

// Environment variables that override file settings.
const (
	EnvSession        = "TABLETOP_SESSION"
	EnvMaxUndo        = "TABLETOP_MAX_UNDO"
	EnvDanglingPolicy = "TABLETOP_DANGLING_POLICY"
	EnvLogLevel       = "TABLETOP_LOG_LEVEL"
)

// Config errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalidValue      = errors.New("invalid config value")
)

// Format is a config file syntax.
type Format string

// Supported formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Config holds all tabletop settings.
type Config struct {
	Session SessionConfig `toml:"session" yaml:"session"`
	History HistoryConfig `toml:"history" yaml:"history"`
	Replay  ReplayConfig  `toml:"replay" yaml:"replay"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// SessionConfig configures the editing session.
type SessionConfig struct {
	// Name identifies the session as the source of outbound messages.
	Name string `toml:"name" yaml:"name"`

	// Scene is a scene document loaded at startup.
	Scene string `toml:"scene" yaml:"scene"`
}

// HistoryConfig configures the undo history.
type HistoryConfig struct {
	// MaxEntries caps the undo stack. Zero selects the default.
	MaxEntries int `toml:"max_entries" yaml:"max_entries"`
}

// ReplayConfig configures undo/redo replay.
type ReplayConfig struct {
	// DanglingPolicy is "skip" or "abort".
	DanglingPolicy string `toml:"dangling_policy" yaml:"dangling_policy"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" yaml:"level"`

	// File sends logs to a size-rotated file instead of stderr.
	File string `toml:"file" yaml:"file"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `toml:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is how many rotated files are kept.
	MaxBackups int `toml:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `toml:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" yaml:"compress"`
}

// MetricsConfig configures instrumentation.
type MetricsConfig struct {
	// Enabled registers Prometheus collectors.
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{Name: "local"},
		History: HistoryConfig{MaxEntries: history.DefaultMaxEntries},
		Replay:  ReplayConfig{DanglingPolicy: replay.PolicySkip.String()},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
	}
}

// Policy returns the parsed dangling reference policy.
func (c *Config) Policy() replay.Policy {
	p, _ := replay.ParsePolicy(c.Replay.DanglingPolicy)
	return p
}

// Validate checks every setting.
func (c *Config) Validate() error {
	var errs []error
	if c.History.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("%w: history.max_entries must not be negative, got %d", ErrInvalidValue, c.History.MaxEntries))
	}
	if _, err := replay.ParsePolicy(c.Replay.DanglingPolicy); err != nil {
		errs = append(errs, fmt.Errorf("%w: replay.dangling_policy: %w", ErrInvalidValue, err))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: logging.level %q", ErrInvalidValue, c.Logging.Level))
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("%w: logging rotation limits must not be negative", ErrInvalidValue))
	}
	return errors.Join(errs...)
}

// ParseError reports a malformed config file.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads the config file at path, applies environment overrides and
// validates the result. An empty path or a missing file yields the defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			format, err := FormatFor(path)
			if err != nil {
				return nil, err
			}
			if err := decode(cfg, path, format, bytes.NewReader(data)); err != nil {
				return nil, err
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a config document over the defaults and validates it.
// Environment variables are not consulted.
func Parse(r io.Reader, format Format) (*Config, error) {
	cfg := Default()
	if err := decode(cfg, "<reader>", format, r); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(cfg *Config, source string, format Format, r io.Reader) error {
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			perr := &ParseError{Path: source, Err: err}
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				perr.Line, perr.Column = derr.Position()
			}
			return perr
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return &ParseError{Path: source, Err: err}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return nil
}

// ApplyEnv overrides settings from the environment using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSession); ok && v != "" {
		c.Session.Name = v
	}
	if v, ok := lookup(EnvMaxUndo); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidValue, EnvMaxUndo, v)
		}
		c.History.MaxEntries = n
	}
	if v, ok := lookup(EnvDanglingPolicy); ok && v != "" {
		c.Replay.DanglingPolicy = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	return nil
}
