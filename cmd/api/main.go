package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/psychiatrai/internal/api/router"
	"github.com/wolfman30/psychiatrai/internal/app/bootstrap"
	appconfig "github.com/wolfman30/psychiatrai/internal/config"
	"github.com/wolfman30/psychiatrai/pkg/logging"
)

func main() {
	// secrets.env holds the API key in local setups; .env is the fallback.
	if err := godotenv.Load("secrets.env"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Println("No secrets.env or .env file found, using environment variables")
		}
	}

	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting psychiatrai screening API",
		"env", cfg.Env,
		"port", cfg.Port,
		"model", cfg.GeminiModelID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := newMetricsRegistry()

	rt, err := bootstrap.BuildScreeningRuntime(ctx, cfg, logger, reg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to release screening runtime", "error", err)
		}
	}()

	handler := router.New(&router.Config{
		Logger:             logger,
		ScreeningHandler:   rt.Handler,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		ExposeSessions:     !cfg.IsProduction(),
		ReadinessCheck:     rt.Sessions.Ready,
	})

	srv := newServer(cfg, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       120 * time.Second,
	}
}

// writeTimeout covers a turn that waits for the lock, the model and the
// scoring pass.
func writeTimeout(cfg *appconfig.Config) time.Duration {
	return cfg.SessionLockWait + cfg.ModelTimeout + cfg.ScoringTimeout + 15*time.Second
}
