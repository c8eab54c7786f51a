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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lookout-server/internal/auth"
	"lookout-server/internal/config"
	"lookout-server/internal/engine"
	"lookout-server/internal/events"
	"lookout-server/internal/hub"
	"lookout-server/internal/logging"
	"lookout-server/internal/presencecache"
	"lookout-server/internal/server"
	"lookout-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.GinMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	gin.SetMode(cfg.GinMode)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	var cache engine.PresenceCache
	if cfg.RedisAddr != "" {
		redisCache := presencecache.New(cfg.RedisAddr)
		defer redisCache.Close()
		cache = redisCache
		logger.Info("presence cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	var publisher engine.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewPublisher(cfg.KafkaBrokers)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.Info("event publisher enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	wsHub := hub.New()
	tracker := engine.NewTracker(st, wsHub, cache, publisher, logger)
	sessions := engine.NewSessions(st, publisher, logger)
	lifecycle := engine.NewLifecycle(tracker, sessions, st, wsHub, logger,
		cfg.ReconcileGrace, cfg.LightReconcileTimeout)
	commands := engine.NewCommands(st, sessions, wsHub, logger)

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "lookout-server",
	}

	router := server.NewRouter(server.Deps{
		Store:       st,
		Hub:         wsHub,
		Tracker:     tracker,
		Sessions:    sessions,
		Lifecycle:   lifecycle,
		Commands:    commands,
		TokenConfig: tokenCfg,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go maintenanceLoop(ctx, lifecycle, commands, cfg, logger)

	srv := server.NewHTTPServer(cfg, router)
	go func() {
		logger.Info("listening", zap.Int("port", cfg.Port))
		if err := server.Run(srv, cfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

// maintenanceLoop runs the periodic authoritative reconciliation sweep and
// retires stale unacknowledged commands.
func maintenanceLoop(ctx context.Context, lifecycle *engine.Lifecycle, commands *engine.Commands, cfg config.Config, logger *zap.Logger) {
	interval := cfg.ReconcileGrace
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lifecycle.Reconcile(ctx)
			if n, err := commands.ExpireStale(ctx, cfg.CommandExpiry); err != nil {
				logger.Warn("stale command expiry failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("expired stale commands", zap.Int("count", n))
			}
		}
	}
}
