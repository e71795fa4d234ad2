package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/audit"
	"github.com/linkward/linkward/pkg/collector"
	"github.com/linkward/linkward/pkg/controller"
	"github.com/linkward/linkward/pkg/decision"
	"github.com/linkward/linkward/pkg/logx"
	"github.com/linkward/linkward/pkg/metrics"
	"github.com/linkward/linkward/pkg/mqtt"
	"github.com/linkward/linkward/pkg/pidfile"
	"github.com/linkward/linkward/pkg/telem"
	"github.com/linkward/linkward/pkg/uci"
)

var (
	configPath  = flag.String("config", "/etc/config/linkward", "Path to UCI configuration file")
	pidPath     = flag.String("pid-file", "/var/run/linkwardd.pid", "Path to PID file")
	logLevel    = flag.String("log-level", "", "Override log level (trace|debug|info|warn|error)")
	dryRun      = flag.Bool("dry-run", false, "Log intended routing changes without applying them")
	foreground  = flag.Bool("foreground", false, "Run in foreground (procd-style supervision)")
	showVersion = flag.Bool("version", false, "Show version information")
	force       = flag.Bool("force", false, "Start even if a pid file from a live process exists")
)

const (
	appName    = "linkwardd"
	appVersion = "1.2.0"

	// in-memory telemetry budget; bbolt holds the long tail
	telemMaxRAMMB = 16

	auditWindowRecords = 1000
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	level := "info"
	if *logLevel != "" {
		level = *logLevel
	}
	logger := logx.NewLogger(level, appName)

	pidFile := pidfile.New(*pidPath)
	if err := pidFile.Create(*force); err != nil {
		logger.Error("Failed to create pid file", "error", err, "path", *pidPath)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove pid file", "error", err)
		}
	}()

	logger.Info("Starting daemon", "version", appVersion, "pid", os.Getpid(), "foreground", *foreground)

	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(cfg.LogLevel)

	if !cfg.Enable {
		logger.Warn("Daemon disabled in configuration, exiting")
		return
	}
	logger.Info("Configuration loaded",
		"interfaces", len(cfg.Interfaces),
		"tick_interval_s", cfg.TickIntervalS,
		"use_mwan3", cfg.UseMwan3,
		"predictive", cfg.Predictive)
	if *dryRun {
		logger.Info("Dry-run mode enabled: no routing changes will be applied")
	}

	telemetry, err := telem.NewStore(cfg.RetentionHours, telemMaxRAMMB, cfg.TelemetryDBPath)
	if err != nil {
		logger.Error("Failed to initialize telemetry store", "error", err)
		os.Exit(1)
	}
	defer telemetry.Close()

	var auditStore *audit.Store
	if cfg.AuditDBPath != "" {
		auditStore, err = audit.OpenStore(cfg.AuditDBPath)
		if err != nil {
			logger.Error("Failed to open audit database", "error", err, "path", cfg.AuditDBPath)
			os.Exit(1)
		}
		defer auditStore.Close()
	}

	auditLog, err := audit.NewDecisionLogger(cfg.AuditDir, auditWindowRecords, auditStore, logger)
	if err != nil {
		logger.Error("Failed to initialize decision logger", "error", err, "dir", cfg.AuditDir)
		os.Exit(1)
	}

	factory := collector.NewFactory(cfg, logger)
	engine := decision.NewEngine(cfg, logger, telemetry, auditLog, factory.CollectorFor)

	interfaces := cfg.TrackedInterfaces()
	if len(interfaces) == 0 {
		logger.Warn("No interfaces configured, nothing to track")
	}
	for _, iface := range interfaces {
		if err := engine.AddInterface(iface); err != nil {
			logger.Error("Failed to add interface", "error", err, "interface", iface.ID)
			os.Exit(1)
		}
	}

	ctrl, err := controller.NewController(cfg, interfaces, logger)
	if err != nil {
		logger.Error("Failed to initialize routing controller", "error", err)
		os.Exit(1)
	}
	ctrl.SetDryRun(*dryRun)

	var exporter *metrics.Exporter
	if cfg.MetricsListener {
		exporter = metrics.NewExporter(logger)
		engine.AddObserver(exporter.ObserveDecision)
		exporter.Start(cfg.MetricsPort)
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			exporter.Stop(stopCtx)
		}()
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT, logger)
		if err := mqttClient.Connect(); err != nil {
			// broker may come up later, the paho client reconnects
			logger.Warn("MQTT broker unavailable at startup", "error", err, "broker", cfg.MQTT.Broker)
		}
		engine.AddObserver(mqttClient.PublishDecision)
		defer mqttClient.Disconnect()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go runMainLoop(ctx, cfg, engine, ctrl, telemetry, auditStore, exporter, mqttClient, logger, done)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			reloadConfig(*configPath, cfg, engine, logger)
			continue
		}
		logger.Info("Received shutdown signal", "signal", sig)
		break
	}

	cancel()
	select {
	case <-done:
		logger.Info("Graceful shutdown completed")
	case <-time.After(10 * time.Second):
		logger.Warn("Shutdown timeout exceeded, exiting")
	}
}

// runMainLoop drives evaluation and storage cleanup until ctx is cancelled.
// An in-flight tick always finishes before done is closed.
func runMainLoop(ctx context.Context, cfg *uci.Config, engine *decision.Engine, ctrl pkg.RoutingController,
	telemetry *telem.Store, auditStore *audit.Store, exporter *metrics.Exporter,
	mqttClient *mqtt.Client, logger *logx.Logger, done chan<- struct{},
) {
	defer close(done)

	tickInterval := time.Duration(cfg.TickIntervalS) * time.Second
	cleanupInterval := time.Duration(cfg.CleanupIntervalS) * time.Second

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	logger.Info("Main loop started", "tick_interval", tickInterval, "cleanup_interval", cleanupInterval)

	// Ticks run against their own context: cancelling the loop context
	// only stops new ticks from starting. A cancelled collector call
	// mid-shutdown would otherwise look like dead hardware and push a
	// parting failover. The engine bounds every external call with its
	// own timeout, so an in-flight tick still terminates promptly.
	tickCtx := context.Background()

	runTick := func() {
		start := time.Now()
		engine.Tick(tickCtx, ctrl)
		elapsed := time.Since(start)
		if exporter != nil {
			exporter.ObserveTick(elapsed)
		}
		if mqttClient != nil {
			mqttClient.PublishState(engine.States())
			latest := make(map[string]*telem.Sample)
			for _, id := range telemetry.Interfaces() {
				if s := telemetry.Latest(id); s != nil {
					latest[id] = s
				}
			}
			mqttClient.PublishTelemetry(latest)
		}
		if elapsed > tickInterval {
			logger.Warn("Tick overran interval", "elapsed", elapsed, "interval", tickInterval)
		}
	}

	// evaluate immediately on startup rather than waiting a full interval
	runTick()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Main loop stopping", "ticks", engine.TickCount())
			return
		case <-ticker.C:
			runTick()
		case <-cleanup.C:
			if err := telemetry.Cleanup(); err != nil {
				logger.Warn("Telemetry cleanup failed", "error", err)
			}
			if auditStore != nil {
				cutoff := time.Now().Add(-time.Duration(cfg.RetentionHours) * time.Hour)
				if err := auditStore.RemoveBefore(cutoff); err != nil {
					logger.Warn("Audit cleanup failed", "error", err)
				}
			}
		}
	}
}

// reloadConfig applies a SIGHUP reload. A config that fails validation is
// rejected and the running configuration stays in effect.
func reloadConfig(path string, current *uci.Config, engine *decision.Engine, logger *logx.Logger) {
	logger.Info("Received SIGHUP, reloading configuration", "path", path)
	next, err := uci.LoadConfig(path)
	if err != nil {
		logger.Error("Reload failed, keeping current configuration", "error", err)
		return
	}
	next.LogLevel = current.LogLevel
	engine.Reconfigure(next)
	logger.Info("Configuration reloaded",
		"failover_threshold", next.FailoverThreshold,
		"recovery_threshold", next.RecoveryThreshold)
}
