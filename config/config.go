// Package config loads and validates the ground station configuration.
//
// Layering order: built-in defaults, then an optional JSON or YAML file,
// then GROUNDSTREAM_* environment overrides, then validation. The structs
// here are pure data; cmd wiring maps them onto component configurations.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/groundstream/errors"
)

const envPrefix = "GROUNDSTREAM"

// Config is the full ground station configuration.
type Config struct {
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Profile   ProfileConfig   `json:"profile" yaml:"profile"`
	Relay     RelayConfig     `json:"relay" yaml:"relay"`
	Feed      FeedConfig      `json:"feed" yaml:"feed"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TransportConfig selects and tunes the radio link.
type TransportConfig struct {
	Kind             string   `json:"kind" yaml:"kind"`
	Address          string   `json:"address,omitempty" yaml:"address,omitempty"`
	Remote           string   `json:"remote,omitempty" yaml:"remote,omitempty"`
	ReceiveBuffer    int      `json:"receive_buffer,omitempty" yaml:"receive_buffer,omitempty"`
	Device           uint8    `json:"device,omitempty" yaml:"device,omitempty"`
	Generate         bool     `json:"generate,omitempty" yaml:"generate,omitempty"`
	GenerateInterval Duration `json:"generate_interval,omitempty" yaml:"generate_interval,omitempty"`
}

// PipelineConfig tunes the decode and send queues.
type PipelineConfig struct {
	ReadQueueSize int   `json:"read_queue_size,omitempty" yaml:"read_queue_size,omitempty"`
	SendQueueSize int   `json:"send_queue_size,omitempty" yaml:"send_queue_size,omitempty"`
	CommandDevice uint8 `json:"command_device,omitempty" yaml:"command_device,omitempty"`
}

// StoreConfig controls telemetry retention and snapshots. An empty
// SnapshotPath disables the autosaver.
type StoreConfig struct {
	SnapshotPath     string   `json:"snapshot_path,omitempty" yaml:"snapshot_path,omitempty"`
	AutosaveInterval Duration `json:"autosave_interval,omitempty" yaml:"autosave_interval,omitempty"`
}

// ProfileConfig points at a field mapping profile. An empty Path selects
// the built-in profile.
type ProfileConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// RelayConfig controls the NATS relay.
type RelayConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	URL            string   `json:"url,omitempty" yaml:"url,omitempty"`
	SubjectPrefix  string   `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
	JetStream      bool     `json:"jetstream,omitempty" yaml:"jetstream,omitempty"`
	StreamName     string   `json:"stream_name,omitempty" yaml:"stream_name,omitempty"`
	BufferSize     int      `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	ConnectTimeout Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	ReconnectWait  Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
}

// FeedConfig controls the WebSocket feed.
type FeedConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Addr         string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	Path         string   `json:"path,omitempty" yaml:"path,omitempty"`
	BufferSize   int      `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	WriteTimeout Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	PingInterval Duration `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`
}

// MetricsConfig controls the metrics and health endpoint. An empty Addr
// disables the server.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Transport: TransportConfig{
			Kind:             "loopback",
			Device:           1,
			Generate:         false,
			GenerateInterval: Duration(time.Second),
		},
		Store: StoreConfig{
			AutosaveInterval: Duration(30 * time.Second),
		},
		Feed: FeedConfig{
			Addr: ":8081",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the optional file at path,
// and environment overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "Config", "Load", "read config file")
		}
		switch ext := filepath.Ext(path); ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.WrapInvalid(err, "Config", "Load", "parse yaml config")
			}
		case ".json":
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.WrapInvalid(err, "Config", "Load", "parse json config")
			}
		default:
			return Config{}, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Load",
				fmt.Sprintf("unsupported config format %q", ext))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
	envString("TRANSPORT_KIND", &c.Transport.Kind)
	envString("TRANSPORT_ADDRESS", &c.Transport.Address)
	envString("TRANSPORT_REMOTE", &c.Transport.Remote)
	envString("PROFILE_PATH", &c.Profile.Path)
	envString("SNAPSHOT_PATH", &c.Store.SnapshotPath)
	envString("RELAY_URL", &c.Relay.URL)
	envString("RELAY_SUBJECT_PREFIX", &c.Relay.SubjectPrefix)
	envString("FEED_ADDR", &c.Feed.Addr)
	envString("METRICS_ADDR", &c.Metrics.Addr)

	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"RELAY_ENABLED", &c.Relay.Enabled},
		{"RELAY_JETSTREAM", &c.Relay.JetStream},
		{"FEED_ENABLED", &c.Feed.Enabled},
		{"TRANSPORT_GENERATE", &c.Transport.Generate},
	} {
		if err := envBool(b.key, b.dst); err != nil {
			return err
		}
	}

	if err := envDuration("AUTOSAVE_INTERVAL", &c.Store.AutosaveInterval); err != nil {
		return err
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + "_" + key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(envPrefix + "_" + key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Load",
			fmt.Sprintf("parse %s_%s", envPrefix, key))
	}
	*dst = parsed
	return nil
}

func envDuration(key string, dst *Duration) error {
	v := os.Getenv(envPrefix + "_" + key)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Load",
			fmt.Sprintf("parse %s_%s", envPrefix, key))
	}
	*dst = Duration(parsed)
	return nil
}

// Validate checks the configuration for values the components would
// reject at startup.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return invalid(fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
	if c.Transport.Kind == "" {
		return invalid("transport kind is required")
	}
	if c.Transport.ReceiveBuffer < 0 {
		return invalid("transport receive buffer must not be negative")
	}
	if c.Pipeline.ReadQueueSize < 0 {
		return invalid("pipeline read queue size must not be negative")
	}
	if c.Pipeline.SendQueueSize < 0 {
		return invalid("pipeline send queue size must not be negative")
	}
	if c.Store.SnapshotPath != "" && c.Store.AutosaveInterval <= 0 {
		return invalid("autosave interval must be positive when a snapshot path is set")
	}
	if c.Relay.Enabled && c.Relay.URL == "" {
		return invalid("relay url is required when the relay is enabled")
	}
	if c.Feed.Enabled && c.Feed.Addr == "" {
		return invalid("feed addr is required when the feed is enabled")
	}
	return nil
}

func invalid(action string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", action)
}
