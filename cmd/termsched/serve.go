package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"termsched/internal/api"
	"termsched/internal/auth"
	"termsched/internal/lock"
	"termsched/internal/metrics"
	"termsched/internal/planner"
	"termsched/internal/webhooks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and webhook worker",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()

	var (
		locker lock.Locker = lock.NewKeyed()
		broker api.EventBroker
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("redis unreachable; using in-process lock and broker")
		} else {
			locker = lock.NewRedis(rdb, 10*time.Second)
			broker = api.NewRedisBroker(rdb, logger)
			logger.Info().Msg("redis lock and event broker enabled")
		}
	}
	if broker == nil {
		broker = api.NewBroker()
	}

	pub := webhooks.NewPublisher(st, logger)
	svc := planner.New(st, cfg.Terminal,
		planner.WithLocker(locker),
		planner.WithLogger(logger),
		planner.WithNotifier(api.EventNotifier{Broker: broker, Pub: pub}),
	)
	srv := api.NewServer(svc, st, api.Options{
		Auth:      auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret),
		Broker:    broker,
		Config:    cfg,
		Logger:    logger,
		RateRPS:   cfg.RateRPS,
		RateBurst: cfg.RateBurst,
	})

	worker := webhooks.NewWorker(st, cfg.WebhookMaxAttempts, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("terminal", cfg.Terminal.Name).
			Str("timezone", cfg.Terminal.Loc().String()).
			Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		<-workerDone
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info().Msg("shutting down gracefully...")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	<-workerDone
	logger.Info().Msg("termsched stopped")
	return nil
}
