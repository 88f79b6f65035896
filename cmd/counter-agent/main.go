package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"batterycounter/internal/agent"
	"batterycounter/internal/clock"
	"batterycounter/internal/display"
	"batterycounter/internal/indicator"
	"batterycounter/internal/logging"
	"batterycounter/internal/queue"
	"batterycounter/internal/sensor"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	sensors := sensor.DefaultRegistry()

	// Parse command-line flags
	configPath := flag.String("config", "", "Path to a YAML, TOML or JSON configuration file")
	deviceID := flag.String("device-id", "", "Device ID reported with every event")
	logURL := flag.String("log-url", "", "Service URL events are posted to")
	statsURL := flag.String("stats-url", "", "Service URL totals are read from")
	token := flag.String("token", "", "Bearer token for the service")
	queuePath := flag.String("queue", "", "Path of the local event queue file")
	sensorKind := flag.String("sensor", "", "Sensor kind: "+strings.Join(sensors.List(), ", "))
	displayKind := flag.String("display", "", "Display kind: log, st7789, none")
	metricsAddr := flag.String("metrics-addr", "", "Listen address for /metrics (disabled if empty)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: json or text")
	flag.Parse()

	cfg := agent.DefaultConfig()
	if *configPath != "" {
		loaded, err := agent.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags given on the command line win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device-id":
			cfg.DeviceID = *deviceID
		case "log-url":
			cfg.LogURL = *logURL
		case "stats-url":
			cfg.StatsURL = *statsURL
		case "token":
			cfg.Token = *token
		case "queue":
			cfg.QueuePath = *queuePath
		case "sensor":
			cfg.Sensor.Kind = *sensorKind
		case "display":
			cfg.Display.Kind = *displayKind
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.LogFormat,
		Level:  logging.ParseLevel(cfg.LogLevel),
	})
	slog.SetDefault(logger)

	if err := run(cfg, sensors, logger); err != nil {
		logger.Error("Battery counter stopped with error", "component", "main", "error", err)
		os.Exit(1)
	}
}

func run(cfg *agent.Config, sensors *sensor.Registry, logger *slog.Logger) error {
	mainLogger := logger.With("component", "main")
	mainLogger.Info("Battery counter starting",
		"device_id", cfg.DeviceID,
		"log_url", cfg.LogURL,
		"sensor", cfg.Sensor.Kind,
		"display", cfg.Display.Kind,
		"queue_path", cfg.QueuePath,
	)

	// The detector is the only component the device cannot run without
	s, err := sensors.Open(cfg.Sensor, logger)
	if err != nil {
		return fmt.Errorf("cannot start without a working sensor (%s): %w", cfg.Sensor.Kind, err)
	}
	detector := sensor.NewDetector(s, cfg.Sensor.Debounce(), clock.Real{})

	disp, err := display.Open(cfg.Display, logger)
	if err != nil {
		mainLogger.Warn("Display unavailable, readouts go to the log", "kind", cfg.Display.Kind, "error", err)
		disp = display.NewLogDisplay(logger, cfg.Display.ShowDistance)
	}

	var led indicator.Indicator = indicator.Nop{}
	if cfg.LEDPin != "" {
		l, err := indicator.OpenLED(cfg.LEDPin)
		if err != nil {
			mainLogger.Warn("Activity LED unavailable", "pin", cfg.LEDPin, "error", err)
		} else {
			led = l
		}
	}

	q, err := queue.Open(cfg.QueuePath, logger)
	if err != nil {
		detector.Close()
		disp.Close()
		led.Close()
		return fmt.Errorf("failed to open queue: %w", err)
	}
	mainLogger.Info("Queue loaded", "pending", q.Len(), "path", q.Path())

	var prober agent.Prober = agent.AlwaysReachable{}
	if cfg.ProbeAddress != "" {
		prober = agent.TCPProber{Address: cfg.ProbeAddress, Timeout: cfg.ProbeTimeout.Duration}
	}

	registry := prometheus.NewRegistry()
	metrics := agent.NewMetrics(registry)

	client := logging.NewRemoteClientLogger(
		agent.NewHTTPClient(cfg.LogURL, cfg.StatsURL, cfg.Token, cfg.RequestTimeout.Duration, logger),
		logger,
	)

	stats := agent.NewStatsCache()
	syncer := agent.NewSyncer(client, q, stats, prober, clock.Real{}, cfg.SyncInterval.Duration, cfg.Impact, metrics, logger)
	loop := agent.NewLoop(detector, q, stats, disp, led, clock.Real{}, agent.LoopConfig{
		DeviceID:   cfg.DeviceID,
		Interval:   cfg.LoopInterval.Duration,
		StatsEvery: cfg.StatsEveryLoops,
		Factors:    cfg.Impact,
	}, metrics, logger)

	a := agent.New(loop, syncer, cfg.MetricsAddr, registry, logger,
		detector.Close, disp.Close, led.Close, q.Flush)
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}

	mainLogger.Info("Battery counter stopped", "pending", q.Len())
	return nil
}
