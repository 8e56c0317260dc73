package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/internal/lua"
	"github.com/srg/hrmon/internal/ptyio"
	"github.com/srg/hrmon/internal/radio"
	"github.com/srg/hrmon/internal/radio/bluez"
	"github.com/srg/hrmon/internal/radio/goble"
	"github.com/srg/hrmon/internal/radio/tinygo"
	"github.com/srg/hrmon/internal/sink"
	"github.com/srg/hrmon/pkg/config"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Connect to a heart rate monitor and stream its readings",
	Long: `Scans for a peripheral advertising the Heart Rate, Battery or Device Information
service, connects to the first one found and streams decoded readings until interrupted.

When the connection drops, scanning resumes and the next monitor found is used.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorBackend      string
	monitorWebSocket    string
	monitorScript       string
	monitorPTY          bool
	monitorProgress     bool
	monitorDumpOnExit   bool
	monitorDiscoverAll  bool
	monitorLittleEndian bool
)

func init() {
	monitorCmd.Flags().StringVar(&monitorBackend, "backend", "", "Radio backend (goble, tinygo); overrides the config file")
	monitorCmd.Flags().StringVar(&monitorWebSocket, "ws", "", "Serve readings over WebSocket at this address, e.g. :8080")
	monitorCmd.Flags().StringVar(&monitorScript, "script", "", "Lua script with on_heart_rate/on_battery/... hooks")
	monitorCmd.Flags().BoolVar(&monitorPTY, "pty", false, "Expose readings on a pseudo-terminal")
	monitorCmd.Flags().BoolVar(&monitorProgress, "progress", false, "Show connection progress until readings arrive")
	monitorCmd.Flags().BoolVar(&monitorDumpOnExit, "dump-on-exit", false, "Print the session snapshot as JSON on exit")
	monitorCmd.Flags().BoolVar(&monitorDiscoverAll, "discover-all", false, "Discover every service, not only the known ones")
	monitorCmd.Flags().BoolVar(&monitorLittleEndian, "le", false, "Decode 16-bit heart rate values little-endian")
	monitorCmd.Flags().Bool("verbose", false, "Verbose output")
}

// backend is a platform radio that reports completions to a Poster once started.
type backend interface {
	hrm.Radio
	Start(ctx context.Context, p radio.Poster)
}

// newBackend builds the configured radio (can be overridden in tests).
var newBackend = func(cfg *config.Config, logger *logrus.Logger) (backend, error) {
	switch cfg.Backend {
	case config.BackendGoBLE:
		return goble.New(goble.Config{
			Options:      goble.Options{DeviceID: cfg.DeviceID},
			PollInterval: cfg.AdapterPollInterval,
			Logger:       logger,
		}), nil
	case config.BackendTinyGo:
		return tinygo.New(tinygo.Config{
			PollInterval: cfg.AdapterPollInterval,
			Logger:       logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func applyMonitorFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = monitorBackend
	}
	if flags.Changed("ws") {
		cfg.Sinks.WebSocket.Addr = monitorWebSocket
	}
	if flags.Changed("script") {
		cfg.Sinks.Lua.Script = monitorScript
	}
	if flags.Changed("pty") {
		cfg.Sinks.PTY.Enabled = monitorPTY
	}
	if flags.Changed("discover-all") {
		cfg.DiscoverAllServices = monitorDiscoverAll
	}
	if flags.Changed("le") {
		cfg.HeartRate.LittleEndian = monitorLittleEndian
	}
	return cfg.Validate()
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyMonitorFlags(cmd, cfg); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}
	groutine.SetLogger(logger)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return monitor(ctx, cfg, logger, cmd.OutOrStdout())
}

func monitor(ctx context.Context, cfg *config.Config, logger *logrus.Logger, out io.Writer) error {
	events, closeSinks, err := buildSinks(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer closeSinks()

	rad, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}

	central := hrm.NewCentral(rad, events, hrm.Options{
		Logger:              logger,
		DeviceModel:         deviceModel(cfg),
		ConnectTimeout:      cfg.ConnectTimeout,
		DiscoveryTimeout:    cfg.DiscoveryTimeout,
		DiscoverAllServices: cfg.DiscoverAllServices,
		Decoder:             gatt.Decoder{HeartRateLittleEndian: cfg.HeartRate.LittleEndian},
	})

	rad.Start(ctx, central)

	if cfg.BlueZ.Enabled {
		if err := watchPower(ctx, cfg, rad, logger); err != nil {
			return err
		}
	}

	err = central.Run(ctx)

	if monitorDumpOnExit {
		data, jsonErr := json.MarshalIndent(central.Snapshot(), "", "  ")
		if jsonErr != nil {
			return errors.Join(err, jsonErr)
		}
		_, _ = fmt.Fprintln(out, string(data))
	}
	return err
}

// watchPower feeds BlueZ adapter power changes into the tinygo radio, which has no power
// callback of its own on Linux.
func watchPower(ctx context.Context, cfg *config.Config, rad backend, logger *logrus.Logger) error {
	powered, ok := rad.(interface{ PowerChanged(bool) })
	if !ok {
		return fmt.Errorf("bluez power watching is not supported by backend %q", cfg.Backend)
	}

	w, err := bluez.Dial(cfg.BlueZ.Adapter, logger)
	if err != nil {
		return fmt.Errorf("failed to watch BlueZ adapter %s: %w", cfg.BlueZ.Adapter, err)
	}

	groutine.Go(ctx, "bluez-watcher", func(ctx context.Context) {
		defer func() { _ = w.Close() }()
		if err := w.Run(ctx, powered.PowerChanged); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithField("error", err).Warn("BlueZ power watcher stopped")
		}
	})
	return nil
}

func deviceModel(cfg *config.Config) string {
	if cfg.DeviceModel != "" {
		return cfg.DeviceModel
	}
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

// buildSinks assembles the configured event sinks. The returned func releases them.
func buildSinks(ctx context.Context, cfg *config.Config, logger *logrus.Logger, out io.Writer) (hrm.EventSink, func(), error) {
	var (
		sinks   sink.Multi
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if monitorProgress {
		p := NewProgressPrinter(out, "Waiting for heart rate monitor", "Scanning", hrm.SessionActive.String())
		p.Start()
		sinks = append(sinks, p)
		closers = append(closers, p.Stop)
	}

	if cfg.Sinks.Console {
		sinks = append(sinks, sink.NewConsole(out))
	}

	if addr := cfg.Sinks.WebSocket.Addr; addr != "" {
		hub := sink.NewHub(logger)
		groutine.Go(ctx, "websocket-hub", func(ctx context.Context) {
			if err := hub.ListenAndServe(ctx, addr); err != nil {
				logger.WithFields(logrus.Fields{"addr": addr, "error": err}).Error("WebSocket hub stopped")
			}
		})
		sinks = append(sinks, hub)
	}

	if cfg.Sinks.PTY.Enabled {
		s, p, err := ptyio.OpenSink(ptyio.Options{WriteCap: cfg.Sinks.PTY.WriteCap, Logger: logger})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		_, _ = fmt.Fprintf(out, "Readings available on %s\n", p.TTYName())
		sinks = append(sinks, s)
		closers = append(closers, func() { _ = p.Close() })
	}

	if script := cfg.Sinks.Lua.Script; script != "" {
		engine := lua.NewEngine(logger)
		if err := engine.LoadScriptFile(script); err != nil {
			engine.Close()
			closeAll()
			return nil, nil, fmt.Errorf("failed to load script %s: %w", script, err)
		}
		collector, err := lua.NewOutputCollector(engine.Output(), lua.DefaultCollectorSize)
		if err != nil {
			engine.Close()
			closeAll()
			return nil, nil, err
		}
		drainer, err := lua.NewOutputDrainer(ctx, collector, logger, out, os.Stderr)
		if err != nil {
			engine.Close()
			closeAll()
			return nil, nil, fmt.Errorf("failed to start script output: %w", err)
		}
		sinks = append(sinks, lua.NewSink(engine, logger))
		// Closers run in reverse: the engine closes its output before the drainer flushes it.
		closers = append(closers, func() {
			drainer.Cancel()
			drainer.Wait()
		}, engine.Close)
	}

	return sinks, closeAll, nil
}
