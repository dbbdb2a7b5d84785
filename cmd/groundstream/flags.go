package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/c360/groundstream/config"
)

// CLIConfig holds command-line configuration. Override fields default to
// empty; only explicitly set values replace what the config file and
// environment resolved.
type CLIConfig struct {
	ConfigPath       string
	LogLevel         string
	LogFormat        string
	Debug            bool
	TransportKind    string
	TransportAddress string
	RelayURL         string
	FeedAddr         string
	MetricsAddr      string
	SnapshotPath     string
	AutosaveInterval time.Duration
	ShutdownTimeout  time.Duration
	ShowVersion      bool
	ShowHelp         bool
	Validate         bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("GROUNDSTREAM_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: GROUNDSTREAM_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("GROUNDSTREAM_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: GROUNDSTREAM_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: GROUNDSTREAM_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: GROUNDSTREAM_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug", false,
		"Force debug logging")

	flag.StringVar(&cfg.TransportKind, "transport", "",
		"Transport kind: loopback, udp (env: GROUNDSTREAM_TRANSPORT_KIND)")

	flag.StringVar(&cfg.TransportAddress, "transport-addr", "",
		"Transport listen address (env: GROUNDSTREAM_TRANSPORT_ADDRESS)")

	flag.StringVar(&cfg.RelayURL, "relay-url", "",
		"NATS server URL, enables the relay (env: GROUNDSTREAM_RELAY_URL)")

	flag.StringVar(&cfg.FeedAddr, "feed-addr", "",
		"WebSocket feed listen address (env: GROUNDSTREAM_FEED_ADDR)")

	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "",
		"Metrics and health listen address (env: GROUNDSTREAM_METRICS_ADDR)")

	flag.StringVar(&cfg.SnapshotPath, "snapshot-path", "",
		"Snapshot file path, enables the autosaver (env: GROUNDSTREAM_SNAPSHOT_PATH)")

	flag.DurationVar(&cfg.AutosaveInterval, "autosave-interval", 0,
		"Autosave interval, zero keeps the configured value (env: GROUNDSTREAM_AUTOSAVE_INTERVAL)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("GROUNDSTREAM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: GROUNDSTREAM_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.AutosaveInterval < 0 {
		return fmt.Errorf("autosave interval must not be negative: %v", cfg.AutosaveInterval)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %v", cfg.ShutdownTimeout)
	}

	return nil
}

// applyOverrides lays explicitly set flags over the loaded configuration and
// revalidates. Flag values outrank both the file and the environment; the
// env fallbacks named in the flag help are applied by config.Load itself.
func applyOverrides(cfg *config.Config, cli *CLIConfig) error {
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	if cli.TransportKind != "" {
		cfg.Transport.Kind = cli.TransportKind
	}
	if cli.TransportAddress != "" {
		cfg.Transport.Address = cli.TransportAddress
	}
	if cli.RelayURL != "" {
		cfg.Relay.Enabled = true
		cfg.Relay.URL = cli.RelayURL
	}
	if cli.FeedAddr != "" {
		cfg.Feed.Enabled = true
		cfg.Feed.Addr = cli.FeedAddr
	}
	if cli.MetricsAddr != "" {
		cfg.Metrics.Addr = cli.MetricsAddr
	}
	if cli.SnapshotPath != "" {
		cfg.Store.SnapshotPath = cli.SnapshotPath
	}
	if cli.AutosaveInterval > 0 {
		cfg.Store.AutosaveInterval = config.Duration(cli.AutosaveInterval)
	}

	return cfg.Validate()
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - rocket telemetry ground station

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with the builtin loopback transport and generated traffic
  GROUNDSTREAM_TRANSPORT_GENERATE=true %s

  # Listen for UDP telemetry and relay bundles to NATS
  %s --transport=udp --transport-addr=:9200 --relay-url=nats://localhost:4222

  # Run with a config file and debug logging
  %s --config=/etc/groundstream/config.yaml --debug

  # Validate configuration only
  %s --config=config.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
