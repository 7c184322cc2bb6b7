package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	internalMiddleware "github.com/lissto-dev/updater/internal/middleware"
	"github.com/lissto-dev/updater/internal/server"
	"github.com/lissto-dev/updater/pkg/config"
	"github.com/lissto-dev/updater/pkg/docker"
	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/metrics"
	"github.com/lissto-dev/updater/pkg/process"
	pkgServer "github.com/lissto-dev/updater/pkg/server"
	"github.com/lissto-dev/updater/pkg/state"
	"github.com/lissto-dev/updater/pkg/update"
	"github.com/lissto-dev/updater/pkg/version"
)

// Set at build time with -ldflags
var (
	buildVersion = "dev"
	buildTime    = "unknown"
)

const janitorInterval = time.Minute

func main() {
	var configPath string
	flag.StringVar(&configPath, "config-path", "config.local.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s", configPath)

	if err := logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Logger.Sync() }()
	logging.Logger.Info("Structured logging initialized",
		zap.String("level", cfg.Logging.Level),
		zap.String("format", cfg.Logging.Format))

	if len(cfg.APIKeys) == 0 {
		logging.Logger.Warn("No API keys configured, every API request will be rejected")
	}

	engine, err := docker.NewClient(cfg.Docker.Host)
	if err != nil {
		logging.Logger.Fatal("Failed to create docker client", zap.Error(err))
	}
	defer func() { _ = engine.Close() }()
	logging.Logger.Info("Docker client initialized", zap.String("host", cfg.Docker.Host))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	cacheTTL := cfg.Version.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = version.DefaultCacheTTL
	}

	rt := state.NewRuntime(state.WithLockTimeout(cfg.Update.LockTimeout))
	checker := version.NewChecker(rt,
		version.WithMetrics(m),
		version.WithCacheTTL(cacheTTL),
		version.WithSourceTimeout(cfg.Version.SourceTimeout),
		version.WithOverallTimeout(cfg.Version.OverallTimeout))
	orchestrator := update.NewOrchestrator(process.NewExecRunner(), engine, update.WithMetrics(m))

	instanceID, err := pkgServer.GetOrCreateInstanceID(cfg.Server.InstanceIDFile)
	if err != nil {
		logging.Logger.Fatal("Failed to get or create instance ID", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = server.NewValidator()

	e.Use(internalMiddleware.LoggerMiddleware())
	e.Use(internalMiddleware.RecoverMiddleware())
	e.Use(internalMiddleware.CORSMiddleware())
	e.Use(internalMiddleware.InstanceIDMiddleware(instanceID))

	srv := server.New(e, cfg, server.Dependencies{
		Checker:  checker,
		Updater:  orchestrator,
		Runtime:  rt,
		Gatherer: registry,
	}, instanceID, &server.VersionInfo{
		Version:   buildVersion,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	})
	logging.Logger.Info("Server initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rt.RunJanitor(ctx, janitorInterval, cacheTTL)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
