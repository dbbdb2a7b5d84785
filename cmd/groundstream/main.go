// Package main implements the groundstream binary: a ground station that
// receives rocket telemetry over a configurable transport, decodes and
// stores it, and serves it onward to dashboards, a message broker, and
// local snapshots.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/groundstream/config"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/feed"
	"github.com/c360/groundstream/health"
	"github.com/c360/groundstream/mapping"
	"github.com/c360/groundstream/metric"
	"github.com/c360/groundstream/persist"
	"github.com/c360/groundstream/pipeline"
	"github.com/c360/groundstream/relay"
	"github.com/c360/groundstream/service"
	"github.com/c360/groundstream/store"
	"github.com/c360/groundstream/telemetry"
	"github.com/c360/groundstream/transport"
	"github.com/c360/groundstream/transport/loopback"
	"github.com/c360/groundstream/transport/udp"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "groundstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("ground station failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(&cfg, cliCfg); err != nil {
		return fmt.Errorf("apply flag overrides: %w", err)
	}

	if cliCfg.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("starting ground station",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"transport", cfg.Transport.Kind)

	manager, err := buildStation(cfg, logger)
	if err != nil {
		return fmt.Errorf("build station: %w", err)
	}

	return runWithSignalHandling(context.Background(), manager, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and handles the version/help short circuits.
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// buildStation constructs every component and registers them with the
// manager in start order: observability first, then the bundle consumers,
// then the pipeline that produces for them. Shutdown runs the same list in
// reverse, so the pipeline stops producing before its consumers drain.
func buildStation(cfg config.Config, logger *slog.Logger) (*service.Manager, error) {
	events := eventbus.New()
	metrics := metric.NewRegistry()
	st := store.New()

	profile, err := loadProfile(cfg.Profile.Path)
	if err != nil {
		return nil, err
	}
	translator := mapping.NewTranslator(profile, logger)

	tr, err := buildTransport(cfg, profile, events, logger)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		ReadQueueSize: cfg.Pipeline.ReadQueueSize,
		SendQueueSize: cfg.Pipeline.SendQueueSize,
		CommandDevice: telemetry.DeviceID(cfg.Pipeline.CommandDevice),
	}, tr, translator, st,
		pipeline.WithEvents(events),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	checker := health.NewChecker()
	checker.Register("pipeline", p.Health)

	manager := service.NewManager(logger)

	if cfg.Metrics.Addr != "" {
		srv := metric.NewServer(metric.ServerConfig{
			Addr: cfg.Metrics.Addr,
			Path: cfg.Metrics.Path,
		}, metrics, checker.Handler(), logger)
		manager.Add("metrics", srv)
	}

	if cfg.Relay.Enabled {
		r, err := relay.New(relay.Config{
			URL:            cfg.Relay.URL,
			SubjectPrefix:  cfg.Relay.SubjectPrefix,
			BufferSize:     cfg.Relay.BufferSize,
			ConnectTimeout: cfg.Relay.ConnectTimeout.Std(),
			ReconnectWait:  cfg.Relay.ReconnectWait.Std(),
			JetStream:      cfg.Relay.JetStream,
			StreamName:     cfg.Relay.StreamName,
		}, relay.WithEvents(events), relay.WithMetrics(metrics), relay.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create relay: %w", err)
		}
		if err := p.RegisterObserver(r); err != nil {
			return nil, fmt.Errorf("register relay observer: %w", err)
		}
		manager.Add("relay", r)
	}

	if cfg.Feed.Enabled {
		f, err := feed.New(feed.Config{
			Addr:         cfg.Feed.Addr,
			Path:         cfg.Feed.Path,
			BufferSize:   cfg.Feed.BufferSize,
			WriteTimeout: cfg.Feed.WriteTimeout.Std(),
			PingInterval: cfg.Feed.PingInterval.Std(),
		}, st, feed.WithEvents(events), feed.WithMetrics(metrics), feed.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create feed: %w", err)
		}
		if err := p.RegisterObserver(f); err != nil {
			return nil, fmt.Errorf("register feed observer: %w", err)
		}
		manager.Add("feed", f)
	}

	if cfg.Store.SnapshotPath != "" {
		sink, err := persist.NewFileSink(cfg.Store.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("create snapshot sink: %w", err)
		}
		saver, err := store.NewAutosaver(st, sink, cfg.Store.AutosaveInterval.Std(), events, logger)
		if err != nil {
			return nil, fmt.Errorf("create autosaver: %w", err)
		}
		manager.Add("autosaver", saver)
	}

	manager.Add("pipeline", p)

	slog.Info("station assembled",
		"components", manager.Names(),
		"profile", profile.Name(),
		"relay", cfg.Relay.Enabled,
		"feed", cfg.Feed.Enabled,
		"snapshot_path", cfg.Store.SnapshotPath)

	return manager, nil
}

// loadProfile returns the builtin profile when no path is configured.
func loadProfile(path string) (*mapping.Profile, error) {
	if path == "" {
		return mapping.Default(), nil
	}
	profile, err := mapping.LoadProfile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}
	return profile, nil
}

// buildTransport resolves the configured transport kind through the factory
// registry. The profile's arm and disarm codes are stamped into the
// transport config so simulating transports can acknowledge them.
func buildTransport(cfg config.Config, profile *mapping.Profile, events *eventbus.Registry, logger *slog.Logger) (transport.Transport, error) {
	transports := transport.NewRegistry()
	if err := transports.Register("loopback", loopback.Factory(events, logger)); err != nil {
		return nil, fmt.Errorf("register loopback transport: %w", err)
	}
	if err := transports.Register("udp", udp.Factory(logger)); err != nil {
		return nil, fmt.Errorf("register udp transport: %w", err)
	}

	tcfg := transport.Config{
		Address:          cfg.Transport.Address,
		Remote:           cfg.Transport.Remote,
		ReceiveBuffer:    cfg.Transport.ReceiveBuffer,
		Device:           cfg.Transport.Device,
		Generate:         cfg.Transport.Generate,
		GenerateInterval: cfg.Transport.GenerateInterval.Std(),
	}
	if code, ok := profile.CommandCode("arm"); ok {
		tcfg.ArmCode = code
	}
	if code, ok := profile.CommandCode("disarm"); ok {
		tcfg.DisarmCode = code
	}

	tr, err := transports.Create(cfg.Transport.Kind, tcfg)
	if err != nil {
		return nil, fmt.Errorf("create transport %q (known kinds: %v): %w",
			cfg.Transport.Kind, transports.Kinds(), err)
	}
	return tr, nil
}

// runWithSignalHandling starts the components and blocks until a signal or
// start failure, then stops everything within the shutdown timeout.
func runWithSignalHandling(ctx context.Context, manager *service.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.StartAll(signalCtx); err != nil {
		// Stop whatever did start before reporting the failure.
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := manager.StopAll(stopCtx); stopErr != nil {
			slog.Error("cleanup after failed start", "error", stopErr)
		}
		return fmt.Errorf("start components: %w", err)
	}

	slog.Info("ground station running")
	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := manager.StopAll(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("ground station shutdown complete")
	return nil
}
