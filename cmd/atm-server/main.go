/**
 * @description
 * This is the main entry point for the atm-service. It loads configuration, opens the
 * account store, connects the event broker and Redis, builds the session registry and
 * admin service, starts the scheduled jobs, and serves the HTTP API until it receives
 * SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: Loads a local .env file before configuration is read.
 * - github.com/redis/go-redis/v9: Shared login rate limiting.
 * - go.uber.org/zap: Structured logging.
 * - internal/api, internal/app, internal/config, internal/logging, internal/store.
 * - internal/broker: Event producer selection.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/atm-service/internal/api"
	"github.com/transfa/atm-service/internal/app"
	"github.com/transfa/atm-service/internal/broker"
	"github.com/transfa/atm-service/internal/config"
	"github.com/transfa/atm-service/internal/logging"
	"github.com/transfa/atm-service/internal/store"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"logger init failed\" err=%v", err)
	}
	defer logger.Sync()
	bootLog := logger.With(zap.String("component", "bootstrap"))
	for _, warning := range cfg.Warnings {
		bootLog.Warn(warning)
	}
	if cfg.InternalAPIKey == "" {
		bootLog.Warn("internal api key not configured; admin routes require an admin session token", zap.String("env", "INTERNAL_API_KEY"))
	}

	bootLog.Info("starting atm-service",
		zap.String("port", cfg.ServerPort),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("event_broker", cfg.EventBroker),
	)

	ctx := context.Background()
	repo, err := store.Open(ctx, store.OpenOptions{
		Driver:        cfg.StoreDriver,
		DatabaseURL:   cfg.DatabaseURL,
		SnapshotPath:  cfg.StoreSnapshotPath,
		RunMigrations: cfg.RunMigrations,
		MaxConns:      cfg.DBMaxConns,
		MinConns:      cfg.DBMinConns,
	}, logger)
	if err != nil {
		bootLog.Fatal("store open failed", zap.Error(err))
	}
	defer repo.Close()

	publisher, closePublisher, err := broker.NewPublisher(cfg, logger)
	if err != nil {
		bootLog.Fatal("event publisher init failed", zap.Error(err))
	}
	defer closePublisher()
	events := app.NewEventNotifier(publisher, cfg.EventExchange, logger)

	var throttle app.LoginThrottle
	if redisClient := connectRedis(ctx, cfg, bootLog); redisClient != nil {
		defer redisClient.Close()
		throttle = app.NewRedisLoginThrottle(redisClient, cfg.RedisRateLimitPrefix, cfg.LoginRateLimitPerMinute)
	}

	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	sessions := app.NewSessionRegistry(func() *app.Controller {
		return app.NewController(repo, app.WithEvents(events), app.WithLogger(logger))
	}, sessionTTL, time.Now)
	admin := app.NewAdminService(repo, app.WithEvents(events), app.WithLogger(logger))

	jobs := app.NewJobs(repo, sessions, events, cfg.CashLowWatermark, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.CashMonitorSchedule, cfg.SessionSweepSchedule)
	scheduler.Start()

	tokens, err := api.NewTokenIssuer(cfg.SessionSigningKey, sessionTTL, time.Now)
	if err != nil {
		bootLog.Fatal("token issuer init failed", zap.Error(err))
	}
	handlers := api.NewHandlers(sessions, admin, repo, tokens, throttle, api.HandlerConfig{
		AdminPINHash:        cfg.AdminPINHash,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
	}, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           api.NewRouter(handlers, cfg.InternalAPIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpLog := logger.With(zap.String("component", "http"))
	go func() {
		httpLog.Info("server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpLog.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	httpLog.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		httpLog.Error("shutdown failed", zap.Error(err))
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		httpLog.Warn("scheduled jobs still running at shutdown")
	}

	httpLog.Info("shutdown complete")
}

// connectRedis returns nil when Redis is not configured or unreachable, which
// disables login rate limiting.
func connectRedis(ctx context.Context, cfg config.Config, bootLog *zap.Logger) *redis.Client {
	if cfg.LoginRateLimitPerMinute <= 0 {
		return nil
	}
	if cfg.RedisURL == "" {
		bootLog.Warn("redis url missing; login rate limiting disabled", zap.String("env", "REDIS_URL"))
		return nil
	}

	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		bootLog.Warn("redis url parse failed; login rate limiting disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(redisOptions)

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		bootLog.Warn("redis ping failed; login rate limiting disabled", zap.Error(err))
		client.Close()
		return nil
	}
	bootLog.Info("redis connected")
	return client
}
