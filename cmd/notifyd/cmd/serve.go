package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/eci-platform/notifyd/internal/broker/nats"
	"github.com/eci-platform/notifyd/internal/config"
	"github.com/eci-platform/notifyd/internal/engine"
	"github.com/eci-platform/notifyd/internal/httpclient"
	"github.com/eci-platform/notifyd/internal/logging"
	"github.com/eci-platform/notifyd/internal/metrics"
	"github.com/eci-platform/notifyd/internal/provider"
	"github.com/eci-platform/notifyd/internal/retry"
	"github.com/eci-platform/notifyd/internal/server"
	"github.com/eci-platform/notifyd/internal/store/postgres"
	redisstore "github.com/eci-platform/notifyd/internal/store/redis"
	"github.com/eci-platform/notifyd/internal/template"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch engine and management API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	logging.Init()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	jobs := postgres.NewJobStore(db)
	attempts := postgres.NewAttemptStore(db)

	idem, err := redisstore.NewIdempotencyStore(ctx, cfg.RedisURL, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer idem.Close()

	consumer, err := nats.New(ctx, cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer consumer.Close()

	eng := engine.New(engine.Options{
		Jobs:        jobs,
		Attempts:    attempts,
		Idempotency: idem,
		Templates:   template.NewRegistry(),
		Providers: []provider.Provider{
			provider.NewEmailProvider(cfg.SMTP),
			provider.NewSMSProvider(cfg.SMSGateway, httpclient.New(cfg.ProviderTimeout)),
		},
		Retry:           cfg.Retry,
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		ProviderTimeout: cfg.ProviderTimeout,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)
	go m.Record(ctx, eng.Hub())

	// Workers must keep their store access after the signal context is
	// cancelled so queued jobs can drain.
	eng.Start(context.WithoutCancel(ctx))

	if err := eng.Recover(ctx); err != nil {
		return fmt.Errorf("recover unfinished jobs: %w", err)
	}

	scanner := retry.NewScanner(jobs, eng, cfg.Retry.PollInterval, cfg.Retry.StaleAfter)
	go scanner.Start(ctx)

	if err := consumer.Start(ctx, eng.HandleEvent); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	srv := server.New(server.Options{
		Engine:   eng,
		Jobs:     jobs,
		Attempts: attempts,
		Idem:     idem,
		Broker:   consumer,
		APIKey:   cfg.APIKey,
		Registry: registry,
	})
	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, srv.Router())

	errCh := make(chan error, 1)
	go func() {
		slog.Info("management API listening",
			slog.String("code", "SYS_STARTUP"),
			slog.String("addr", cfg.HTTPAddr),
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received", slog.String("code", "SYS_SHUTDOWN"))
	case err := <-errCh:
		slog.Error("http server failed", slog.String("code", "SYS_ERROR"), slog.Any("error", err))
	}

	// Stop intake first, then drain: consumer, API, scanner, workers.
	if err := consumer.Close(); err != nil {
		slog.Error("consumer close failed", slog.String("code", "SYS_ERROR"), slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.String("code", "SYS_ERROR"), slog.Any("error", err))
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine drain failed", slog.String("code", "SYS_ERROR"), slog.Any("error", err))
		return err
	}
	return nil
}
