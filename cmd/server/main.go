package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/AngelCh415/ad-performance-scorer/internal/benchmark"
	"github.com/AngelCh415/ad-performance-scorer/internal/config"
	"github.com/AngelCh415/ad-performance-scorer/internal/export"
	"github.com/AngelCh415/ad-performance-scorer/internal/httpx"
	"github.com/AngelCh415/ad-performance-scorer/internal/ingest"
	"github.com/AngelCh415/ad-performance-scorer/internal/metrics"
	"github.com/AngelCh415/ad-performance-scorer/internal/scoring"
	"github.com/AngelCh415/ad-performance-scorer/internal/segments"
	"github.com/AngelCh415/ad-performance-scorer/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	profile, err := cfg.Profile()
	if err != nil {
		log.Fatalf("scoring profile: %v", err)
	}
	resolver, err := cfg.Resolver(profile)
	if err != nil {
		log.Fatalf("benchmarks: %v", err)
	}
	registry := benchmark.NewRegistry(resolver)

	engine, err := scoring.NewEngine(cfg.EngineConfig())
	if err != nil {
		log.Fatalf("scoring engine: %v", err)
	}
	agg, err := segments.NewAggregator(engine, cfg.SegmentConfig())
	if err != nil {
		log.Fatalf("segment aggregator: %v", err)
	}

	cl := ingest.NewHTTPClient(cfg.API.Timeout)
	st := store.NewMemoryStore(cfg.Server.RunRetention)
	pipe := ingest.NewPipeline(ingest.NewClient(cl, cfg.API, logger), registry, engine, agg, profile, st, logger, ingest.OptionsFromConfig(cfg))
	reloader := &benchmarkReloader{
		source:   cfg.Benchmarks.Source,
		profile:  profile,
		registry: registry,
		log:      logger,
	}

	r := httpx.NewRouter(logger, httpx.Deps{
		Runner:   pipe,
		Reports:  metrics.NewService(st),
		Store:    st,
		Exporter: export.NewExporter(cl, cfg.Export),
		Reload:   reloader.Reload,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go watchHangup(ctx, reloader.Reload, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			slog.String("port", cfg.Server.Port),
			slog.Any("regions", cfg.Regions()),
			slog.String("benchmark_source", cfg.Benchmarks.Source))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("err", err.Error()))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", slog.String("err", err.Error()))
		}
	}
}

func watchHangup(ctx context.Context, reload func() error, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(); err != nil {
				logger.Error("benchmark reload failed", slog.String("err", err.Error()))
			}
		}
	}
}
