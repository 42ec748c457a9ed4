// Package config reads the fluxtor.toml project file.
//
// Example:
//
//	definitions = "definitions"
//	store = "counter"
//
//	[trace]
//	database = "fluxtor.db"
//
//	[log]
//	level = "debug"
//	format = "json"
//
// Relative paths are resolved against the directory holding the file.
// FLUXTOR_LOG_LEVEL overrides log.level.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the project file looked up by Find.
const FileName = "fluxtor.toml"

// EnvLogLevel overrides the configured log level.
const EnvLogLevel = "FLUXTOR_LOG_LEVEL"

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatAuto = "auto"
)

// ValidLogFormats lists the accepted log.format values.
var ValidLogFormats = []string{FormatText, FormatJSON, FormatAuto}

// Config is the project configuration.
type Config struct {
	// Definitions is the CUE package directory holding store definitions.
	Definitions string `toml:"definitions"`

	// Store is the default store for commands that need one.
	Store string `toml:"store,omitempty"`

	Trace TraceConfig `toml:"trace"`
	Log   LogConfig   `toml:"log"`

	// Path is the file this config was read from. Empty for defaults.
	Path string `toml:"-"`
}

// TraceConfig configures the trace recorder.
type TraceConfig struct {
	// Database is the SQLite file dispatches are recorded to. Empty
	// disables recording.
	Database string `toml:"database,omitempty"`
}

// LogConfig configures CLI logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Definitions: "definitions",
		Log: LogConfig{
			Level:  "info",
			Format: FormatAuto,
		},
	}
}

// Load reads and validates a config file. Unknown keys are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%s: unknown keys:\n%s", path, strict.String())
		}
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}

	cfg.Path = path
	base := filepath.Dir(path)
	cfg.Definitions = resolve(base, cfg.Definitions)
	cfg.Trace.Database = resolve(base, cfg.Trace.Database)

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if given, otherwise the nearest fluxtor.toml
// above the working directory, otherwise the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	wd, err := os.Getwd()
	if err == nil {
		if found, ok := Find(wd); ok {
			return Load(found)
		}
	}

	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find walks from dir up to the filesystem root looking for FileName.
func Find(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Validate checks log settings.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if !slices.Contains(ValidLogFormats, c.Log.Format) {
		return fmt.Errorf("invalid log.format %q: must be one of %v", c.Log.Format, ValidLogFormats)
	}
	return nil
}

// SlogLevel returns the configured level. Validate has already rejected
// bad values, so unknown levels fall back to info.
func (c *Config) SlogLevel() slog.Level {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLevel parses debug, info, warn or error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q: %w", s, err)
	}
	return level, nil
}

func (c *Config) applyEnv() {
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
