package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/triage-ai/medalert/internal/api"
	"github.com/triage-ai/medalert/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and optional gRPC health server)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting medalert server",
		zap.String("http_port", cfg.HTTP.Port),
		zap.String("grpc_port", cfg.GRPC.Port),
		zap.Float64("trigger_threshold", cfg.Action.TriggerThreshold),
		zap.Duration("call_timeout", cfg.Action.CallTimeout()),
		zap.Duration("cooldown", cfg.Action.Cooldown()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, appOptions{withReader: true})
	if err != nil {
		return err
	}
	defer a.Close()

	deps := &api.Dependencies{
		Pipeline:    a.pipeline,
		Transcriber: a.transcriber,
		Extractor:   a.extractor,
		Logger:      logger,
	}
	if a.reader != nil {
		deps.Dispatches = a.reader
	}
	if cfg.HTTP.RateLimitRPS > 0 {
		deps.Limiter = api.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
		defer deps.Limiter.Close()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var health *server.HealthServer
	if cfg.GRPC.Port != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
		if err != nil {
			stop()
			_ = httpServer.Close()
			_ = g.Wait()
			return err
		}
		health = server.NewHealthServer(logger)
		g.Go(func() error { return health.Serve(lis) })
		g.Go(func() error {
			health.Monitor(gctx, 15*time.Second, func(ctx context.Context) error {
				_, err := a.pipeline.Ledger().List(ctx)
				return err
			})
			return nil
		})
	}

	// Block until a shutdown signal or a server failure.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		if health != nil {
			health.Shutdown()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	logger.Info("medalert server stopped")
	return nil
}
