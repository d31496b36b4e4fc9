package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TimurManjosov/querygate/internal/api"
	"github.com/TimurManjosov/querygate/internal/config"
	"github.com/TimurManjosov/querygate/internal/db"
	"github.com/TimurManjosov/querygate/internal/health"
	"github.com/TimurManjosov/querygate/internal/logger"
	"github.com/TimurManjosov/querygate/internal/query"
	"github.com/TimurManjosov/querygate/internal/telemetry"
)

const serviceName = "querygate"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	log = log.With().Str("env", cfg.AppEnv).Logger()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if err := telemetry.RegisterPool(pool.Stats); err != nil {
		log.Warn().Err(err).Msg("pool metrics not registered")
	}

	queries := query.NewService(pool, log)
	checker := health.NewService(pool, cfg.AppEnv, log)
	srvAPI := api.NewServer(queries, checker, api.Options{
		StaticDir:      cfg.StaticDir,
		RateLimitPerIP: cfg.RateLimitPerIP,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srvAPI.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down")
			if err := srv.Shutdown(shutCtx); err != nil {
				log.Error().Err(err).Msg("http shutdown")
			}
			if metricsSrv != nil {
				if err := metricsSrv.Shutdown(shutCtx); err != nil {
					log.Error().Err(err).Msg("metrics shutdown")
				}
			}
			if err := pool.Shutdown(shutCtx); err != nil {
				log.Error().Err(err).Msg("database pool shutdown")
			}
			if err := shutdownTracing(shutCtx); err != nil {
				log.Error().Err(err).Msg("tracer shutdown")
			}
		})
	}
	defer shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("static_dir", cfg.StaticDir).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdown()
		return nil
	})

	return g.Wait()
}
