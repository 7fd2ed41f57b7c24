// Package config provides configuration types and helpers for logstage.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/bimmerbailey/logstage/internal/dedot"
	"github.com/bimmerbailey/logstage/internal/extract"
	"github.com/bimmerbailey/logstage/internal/kvdecode"
	"github.com/bimmerbailey/logstage/internal/pipeline"
	"github.com/bimmerbailey/logstage/internal/tagtrunc"
)

// Config holds the application-wide configuration.
type Config struct {
	Format   string          `mapstructure:"format"`
	Verbose  bool            `mapstructure:"verbose"`
	Workers  int             `mapstructure:"workers"`
	OnError  string          `mapstructure:"on_error"`
	Input    InputConfig     `mapstructure:"input"`
	Log      LogConfig       `mapstructure:"log"`
	Dedot    dedot.Config    `mapstructure:"dedot"`
	Extract  ExtractConfig   `mapstructure:"extract"`
	Truncate TruncateConfig  `mapstructure:"truncate"`
	Logfmt   kvdecode.Config `mapstructure:"logfmt"`
}

// InputConfig describes how raw lines become events.
type InputConfig struct {
	// Format is "logfmt", "json" or "raw".
	Format string `mapstructure:"format"`
	// Tag is used for every event unless TagKey names a record field.
	Tag string `mapstructure:"tag"`
	// TagKey optionally reads the tag from a record field.
	TagKey string `mapstructure:"tag_key"`
	// TimeFormats are the layouts tried against JSON time fields.
	TimeFormats []string `mapstructure:"time_formats"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

// ExtractConfig holds the ordered field extraction rules.
type ExtractConfig struct {
	Rules []extract.RuleConfig `mapstructure:"rules"`
}

// TruncateConfig controls tag shortening on output.
type TruncateConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	MaxLength int  `mapstructure:"max_length"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("format", "json")
	v.SetDefault("verbose", false)
	v.SetDefault("workers", 4)
	v.SetDefault("on_error", string(pipeline.SendOnError))
	v.SetDefault("input.format", string(pipeline.InputLogfmt))
	v.SetDefault("input.tag", "logstage")
	v.SetDefault("input.time_formats", []string{
		"2006-01-02T15:04:05Z07:00",  // RFC3339
		"2006-01-02 15:04:05",        // Common datetime
		"Jan 02 15:04:05",            // Syslog
		"02/Jan/2006:15:04:05 -0700", // Apache/Nginx
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("dedot.enabled", true)
	v.SetDefault("dedot.separator", dedot.DefaultSeparator)
	v.SetDefault("truncate.enabled", false)
	v.SetDefault("truncate.max_length", tagtrunc.DefaultMaxLength)
	v.SetDefault("logfmt.strict", false)
	v.SetDefault("logfmt.heuristic", string(kvdecode.HeuristicFlag))
	v.SetDefault("logfmt.time_key", kvdecode.DefaultTimeKey)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for misconfigurations and returns an
// error describing all issues found.
func (c Config) Validate() error {
	var errs []string

	if _, err := pipeline.ParseInputFormat(c.Input.Format); err != nil {
		errs = append(errs, err.Error()+": must be logfmt, json, or raw")
	}

	if _, err := pipeline.ParseOnError(c.OnError); err != nil {
		errs = append(errs, err.Error()+": must be send, send_quiet, drop, or drop_quiet")
	}

	if c.Workers < 1 {
		errs = append(errs, fmt.Sprintf("workers must be at least 1: %d", c.Workers))
	}

	if c.Truncate.Enabled && c.Truncate.MaxLength < 1 {
		errs = append(errs, fmt.Sprintf("truncate.max_length must be at least 1: %d", c.Truncate.MaxLength))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("invalid log.level %q: must be debug, info, warn, or error", c.Log.Level))
	}

	validLogFormats := map[string]bool{"console": true, "json": true}
	if c.Log.Format != "" && !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Sprintf("invalid log.format %q: must be console or json", c.Log.Format))
	}

	if err := c.Dedot.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if err := c.Logfmt.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	for i, rule := range c.Extract.Rules {
		if rule.Key == "" || rule.Set == "" {
			errs = append(errs, fmt.Sprintf("extract.rules[%d]: key and set are required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogLevel represents a standard log severity level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelUnknown
)

// String returns the string representation of a LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a LogLevel.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug", "dbg":
		return LevelDebug
	case "info", "inf":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error", "err":
		return LevelError
	case "fatal", "critical", "crit":
		return LevelFatal
	default:
		return LevelUnknown
	}
}
