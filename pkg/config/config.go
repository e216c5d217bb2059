package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/scan"
	"github.com/srg/scanmux/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCANMUX_"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds application configuration
type Config struct {
	LogLevel     string          `yaml:"log_level" json:"log_level" default:"info"`
	OutputFormat string          `yaml:"output_format" json:"output_format" default:"table"` // table, json
	Scheduler    SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Resources    ResourceConfig  `yaml:"resources" json:"resources"`
}

// SchedulerConfig tunes arbitration, timers and queues.
type SchedulerConfig struct {
	CommandTimeout  time.Duration `yaml:"command_timeout" json:"command_timeout" default:"500ms"`
	UpgradeDuration time.Duration `yaml:"upgrade_duration" json:"upgrade_duration" default:"10s"`
	ScanTimeout     time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"30m"`
	BackgroundMode  string        `yaml:"background_mode" json:"background_mode" default:"low_power"`
	FlushJitterPct  int           `yaml:"flush_jitter_pct" json:"flush_jitter_pct" default:"10"`
	ScanQuotaCount  int           `yaml:"scan_quota_count" json:"scan_quota_count" default:"5"`
	ScanQuotaWindow time.Duration `yaml:"scan_quota_window" json:"scan_quota_window" default:"30s"`
	QueueSize       int           `yaml:"queue_size" json:"queue_size" default:"64"`
	ResultBuffer    int           `yaml:"result_buffer" json:"result_buffer" default:"32"`
}

// ResourceConfig sizes the controller filter table.
type ResourceConfig struct {
	FilterSlots    int `yaml:"filter_slots" json:"filter_slots" default:"16"`
	ReservedSlots  int `yaml:"reserved_slots" json:"reserved_slots" default:"3"`
	TrackingBudget int `yaml:"tracking_budget" json:"tracking_budget" default:"32"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, the optional YAML file at path and
// SCANMUX_* environment variables, in that order, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
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

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func durationVar(name string, field func(c *Config) *time.Duration) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}}
}

func intVar(name string, field func(c *Config) *int) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}}
}

func stringVar(name string, field func(c *Config) *string) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

var envVars = []envVar{
	stringVar("LOG_LEVEL", func(c *Config) *string { return &c.LogLevel }),
	stringVar("OUTPUT_FORMAT", func(c *Config) *string { return &c.OutputFormat }),
	durationVar("COMMAND_TIMEOUT", func(c *Config) *time.Duration { return &c.Scheduler.CommandTimeout }),
	durationVar("UPGRADE_DURATION", func(c *Config) *time.Duration { return &c.Scheduler.UpgradeDuration }),
	durationVar("SCAN_TIMEOUT", func(c *Config) *time.Duration { return &c.Scheduler.ScanTimeout }),
	stringVar("BACKGROUND_MODE", func(c *Config) *string { return &c.Scheduler.BackgroundMode }),
	intVar("FLUSH_JITTER_PCT", func(c *Config) *int { return &c.Scheduler.FlushJitterPct }),
	intVar("SCAN_QUOTA_COUNT", func(c *Config) *int { return &c.Scheduler.ScanQuotaCount }),
	durationVar("SCAN_QUOTA_WINDOW", func(c *Config) *time.Duration { return &c.Scheduler.ScanQuotaWindow }),
	intVar("QUEUE_SIZE", func(c *Config) *int { return &c.Scheduler.QueueSize }),
	intVar("RESULT_BUFFER", func(c *Config) *int { return &c.Scheduler.ResultBuffer }),
	intVar("FILTER_SLOTS", func(c *Config) *int { return &c.Resources.FilterSlots }),
	intVar("RESERVED_SLOTS", func(c *Config) *int { return &c.Resources.ReservedSlots }),
	intVar("TRACKING_BUDGET", func(c *Config) *int { return &c.Resources.TrackingBudget }),
}

// ApplyEnv overrides fields from SCANMUX_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %w", ErrInvalid, EnvPrefix, ev.name, v, err)
		}
	}
	return nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown output format %q", c.OutputFormat))
	}

	s := c.Scheduler
	if _, err := scan.ParseMode(s.BackgroundMode); err != nil {
		errs = append(errs, fmt.Errorf("background_mode: %w", err))
	}
	if s.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command_timeout must be positive"))
	}
	if s.UpgradeDuration < 0 || s.ScanTimeout < 0 || s.ScanQuotaWindow < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if s.FlushJitterPct < 0 || s.FlushJitterPct > 100 {
		errs = append(errs, fmt.Errorf("flush_jitter_pct %d out of [0,100]", s.FlushJitterPct))
	}
	if s.QueueSize <= 0 || s.ResultBuffer <= 0 {
		errs = append(errs, errors.New("queue_size and result_buffer must be positive"))
	}

	r := c.Resources
	if r.ReservedSlots < 0 || r.ReservedSlots >= r.FilterSlots {
		errs = append(errs, fmt.Errorf("reserved_slots %d must be below filter_slots %d", r.ReservedSlots, r.FilterSlots))
	}
	if r.TrackingBudget < 0 {
		errs = append(errs, errors.New("tracking_budget must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SchedulerOptions converts the configuration to scheduler options with the
// screen on and location enabled.
func (c *Config) SchedulerOptions() scheduler.Options {
	opts := scheduler.DefaultOptions()
	s := c.Scheduler
	opts.CommandTimeout = s.CommandTimeout
	opts.UpgradeDuration = s.UpgradeDuration
	opts.ScanTimeout = s.ScanTimeout
	if m, err := scan.ParseMode(s.BackgroundMode); err == nil {
		opts.BackgroundMode = m
	}
	opts.FlushJitterPct = s.FlushJitterPct
	opts.ScanQuotaCount = s.ScanQuotaCount
	opts.ScanQuotaWindow = s.ScanQuotaWindow
	opts.QueueSize = s.QueueSize
	opts.ResultBuffer = s.ResultBuffer
	opts.FilterSlots = c.Resources.FilterSlots
	opts.ReservedSlots = c.Resources.ReservedSlots
	opts.TrackingBudget = c.Resources.TrackingBudget
	return opts
}
