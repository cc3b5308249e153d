// Package config loads and validates runtime configuration for the curlfs
// engine, in the teacher's idiom: struct-tagged defaults, environment
// variable overrides applied in a fixed precedence order, a Validate() pass
// with actionable messages, and JSON load/save -- the pattern
// pkg/common/config/config.go used before it was rewritten for this domain
// (see DESIGN.md).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config is the engine-wide configuration surface.
type Config struct {
	WorkerCount       int           `json:"worker_count"`
	QueueMaxSize      int           `json:"queue_max_size"`
	MaxInFlightPerWorker int        `json:"max_in_flight_per_worker"`
	MaintenancePeriod time.Duration `json:"maintenance_period"`
	StallTimeout      time.Duration `json:"stall_timeout"`
	MinimumRateBytes  float64       `json:"minimum_rate_bytes_per_sec"`
	DefaultHeaderTimeout time.Duration `json:"default_header_timeout"`
	CAFile            string        `json:"ca_file"`
	CADir             string        `json:"ca_dir"`
	LogLevel          string        `json:"log_level"`
	LogFormat         string        `json:"log_format"`
	LogOutput         string        `json:"log_output"`
	LogFile           string        `json:"log_file"`

	// Domain-stack knobs. Zero values disable the corresponding optional
	// subsystem.
	MetricsAddr      string `json:"metrics_addr,omitempty"`
	DebugServerAddr  string `json:"debug_server_addr,omitempty"`
	RedisAddrs       []string `json:"redis_addrs,omitempty"`
	PostgresDSN      string `json:"postgres_dsn,omitempty"`
	BleveIndexPath   string `json:"bleve_index_path,omitempty"`
}

// HotReloadable is the subset of fields a running Factory can safely apply
// without a restart (worker count and TLS material require one), per
// SPEC_FULL.md's ambient-stack configuration section.
type HotReloadable struct {
	MaintenancePeriod time.Duration
	StallTimeout      time.Duration
	MinimumRateBytes  float64
	LogLevel          string
}

// Default returns the built-in defaults, matching spec §4.6/§4.7's defaults.
func Default() *Config {
	return &Config{
		WorkerCount:          8,
		QueueMaxSize:         4096,
		MaxInFlightPerWorker: 20,
		MaintenancePeriod:    5 * time.Second,
		StallTimeout:         60 * time.Second,
		MinimumRateBytes:     256 * 1024,
		DefaultHeaderTimeout: 60 * time.Second,
		LogLevel:             "info",
		LogFormat:            "text",
		LogOutput:            "console",
	}
}

// envOverrides lists the environment variables applied over defaults/file
// values, in the fixed precedence order: file < environment.
var envOverrides = []struct {
	key   string
	apply func(*Config, string) error
}{
	{"CURLFS_WORKER_COUNT", func(c *Config, v string) error { return setInt(&c.WorkerCount, v) }},
	{"CURLFS_QUEUE_MAX_SIZE", func(c *Config, v string) error { return setInt(&c.QueueMaxSize, v) }},
	{"CURLFS_MAX_IN_FLIGHT", func(c *Config, v string) error { return setInt(&c.MaxInFlightPerWorker, v) }},
	{"CURLFS_MAINTENANCE_PERIOD", func(c *Config, v string) error { return setDuration(&c.MaintenancePeriod, v) }},
	{"CURLFS_STALL_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.StallTimeout, v) }},
	{"CURLFS_MINIMUM_RATE_BYTES", func(c *Config, v string) error { return setFloat(&c.MinimumRateBytes, v) }},
	{"CURLFS_HEADER_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.DefaultHeaderTimeout, v) }},
	{"CURLFS_CA_FILE", func(c *Config, v string) error { c.CAFile = v; return nil }},
	{"CURLFS_CA_DIR", func(c *Config, v string) error { c.CADir = v; return nil }},
	{"CURLFS_LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"CURLFS_LOG_FORMAT", func(c *Config, v string) error { c.LogFormat = v; return nil }},
	{"CURLFS_LOG_OUTPUT", func(c *Config, v string) error { c.LogOutput = v; return nil }},
	{"CURLFS_LOG_FILE", func(c *Config, v string) error { c.LogFile = v; return nil }},
	{"CURLFS_METRICS_ADDR", func(c *Config, v string) error { c.MetricsAddr = v; return nil }},
	{"CURLFS_DEBUG_SERVER_ADDR", func(c *Config, v string) error { c.DebugServerAddr = v; return nil }},
	{"CURLFS_POSTGRES_DSN", func(c *Config, v string) error { c.PostgresDSN = v; return nil }},
	{"CURLFS_BLEVE_INDEX_PATH", func(c *Config, v string) error { c.BleveIndexPath = v; return nil }},
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Load reads path (if non-empty and present) over the defaults, then applies
// environment variable overrides, per the fixed precedence "defaults < file
// < environment".
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvironmentOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok {
			if err := o.apply(cfg, v); err != nil {
				return fmt.Errorf("invalid value for %s: %w", o.key, err)
			}
		}
	}
	return nil
}

// Validate checks the configuration for actionable errors.
func (c *Config) Validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.WorkerCount)
	}
	if c.QueueMaxSize <= 0 {
		return fmt.Errorf("queue_max_size must be positive, got %d", c.QueueMaxSize)
	}
	if c.MaxInFlightPerWorker <= 0 {
		return fmt.Errorf("max_in_flight_per_worker must be positive, got %d", c.MaxInFlightPerWorker)
	}
	if c.MaintenancePeriod <= 0 {
		return fmt.Errorf("maintenance_period must be positive, got %s", c.MaintenancePeriod)
	}
	if c.StallTimeout <= 0 {
		return fmt.Errorf("stall_timeout must be positive, got %s", c.StallTimeout)
	}
	if c.MinimumRateBytes < 0 {
		return fmt.Errorf("minimum_rate_bytes_per_sec must not be negative, got %f", c.MinimumRateBytes)
	}
	return nil
}

// SaveToFile writes cfg as indented JSON to path.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// DefaultConfigPath returns the conventional per-user config file location.
func DefaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/curlfs/config.json"
	}
	return "curlfs-config.json"
}

// Watcher hot-reloads the subset of settings safe to change at runtime
// (spec's ambient-stack configuration section): MaintenancePeriod,
// StallTimeout, MinimumRateBytes, and LogLevel. Worker count and TLS paths
// are only re-read from disk on the next full Load, not re-applied live.
type Watcher struct {
	path    string
	current *Config
	onChange func(HotReloadable)
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching path for changes, invoking onChange with the
// reloadable subset whenever it changes and still validates.
func NewWatcher(path string, initial *Config, onChange func(HotReloadable)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config file %s: %w", path, err)
	}
	w := &Watcher{path: path, current: initial, onChange: onChange, fsw: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.current = cfg
			if w.onChange != nil {
				w.onChange(HotReloadable{
					MaintenancePeriod: cfg.MaintenancePeriod,
					StallTimeout:      cfg.StallTimeout,
					MinimumRateBytes:  cfg.MinimumRateBytes,
					LogLevel:          cfg.LogLevel,
				})
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
