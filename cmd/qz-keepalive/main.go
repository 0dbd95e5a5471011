package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/qzcli/pkg/config"
	"github.com/platinummonkey/qzcli/pkg/keepalive"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/session"
)

var version = "dev"

var (
	configDir   = flag.String("config-dir", config.Dir(), "Directory holding config.yaml and the credential cache")
	logLevel    = flag.String("log-level", "", "Lifecycle log level (defaults to observability.log_level)")
	metricsAddr = flag.String("metrics-addr", "", "Listen address for /metrics, /healthz and /readyz (defaults to observability.metrics_addr)")
	runOnce     = flag.Bool("run-once", false, "Renew the token once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	level := cfg.Observability.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	log := setupLogger(level)
	logger := observability.NewLogger(observability.ParseLogLevel(level), os.Stderr)

	ctx := context.Background()
	registry := prometheus.NewRegistry()
	opts := session.Options{}

	var providers *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelCfg := cfg.OTelConfig()
		otelCfg.ServiceVersion = version
		providers, err = observability.InitOTel(ctx, otelCfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
		}
		if opts.OTelMetrics, err = observability.NewOTelMetrics(); err != nil {
			log.Fatalf("Failed to create OpenTelemetry instruments: %v", err)
		}
	}

	daemon := keepalive.New(keepalive.Options{
		ConfigDir: *configDir,
		Session:   opts,
		Registry:  registry,
		Version:   version,
		Lifecycle: log,
		Logger:    logger,
	})

	if *runOnce {
		if err := daemon.Reload(ctx); err != nil {
			log.Fatalf("Failed to open session: %v", err)
		}
		err := daemon.RunOnce(ctx)
		daemon.Stop(ctx)
		if err != nil {
			log.Fatalf("Keep-alive run failed: %v", err)
		}
		log.Info("Keep-alive run completed")
		return
	}

	if err := daemon.Start(ctx); err != nil {
		log.Fatalf("Failed to start keep-alive: %v", err)
	}

	addr := cfg.Observability.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           daemon.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", addr).Info("Serving metrics and health endpoints")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	go func() {
		if err := daemon.Watch(watchCtx); err != nil {
			log.WithError(err).Error("Config watcher stopped")
		}
	}()

	// hooks run in reverse order: watcher, scheduler and session, then telemetry
	shutdown := observability.NewShutdownManager(logger, server, 30*time.Second)
	if providers != nil {
		shutdown.Register("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}
	shutdown.Register("keepalive", daemon.Stop)
	shutdown.Register("watcher", func(context.Context) error {
		stopWatch()
		return nil
	})

	if err := shutdown.WaitForSignal(ctx); err != nil {
		log.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	log.Info("Keep-alive stopped")
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}
