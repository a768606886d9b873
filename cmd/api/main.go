package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fernandonovaluz/escola-backend/internal/attendance"
	"github.com/fernandonovaluz/escola-backend/internal/badge"
	"github.com/fernandonovaluz/escola-backend/internal/config"
	"github.com/fernandonovaluz/escola-backend/internal/directory"
	"github.com/fernandonovaluz/escola-backend/internal/httpapi"
	"github.com/fernandonovaluz/escola-backend/internal/lessonplan"
	"github.com/fernandonovaluz/escola-backend/internal/notify"
	"github.com/fernandonovaluz/escola-backend/internal/pickup"
	"github.com/fernandonovaluz/escola-backend/internal/realtime"
	"github.com/fernandonovaluz/escola-backend/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		slog.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config.App) {
	var h slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	if cfg.Production() {
		h = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(h))
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		slog.Warn("database not reachable", "error", err)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := store.MigrateUp(ctx, db.Client); err != nil {
			return err
		}
		slog.Info("migrations applied")
	}

	checks := map[string]httpapi.HealthCheck{"db": db.Healthy}

	// With several replicas the relay and the pending releases both live in
	// redis, so a decision may land on any replica.
	var (
		broker  realtime.Broker
		pending pickup.Store
	)
	if cfg.RealtimeBackend == "redis" {
		rdb, err := store.NewRedis(ctx, cfg.RedisAddr)
		defer rdb.Close()
		if err != nil {
			slog.Warn("redis not reachable yet", "addr", cfg.RedisAddr, "error", err)
		}
		broker = realtime.NewRedisBroker(rdb.Client, cfg.RealtimeChannel, cfg.RealtimeBreaker)
		pending = pickup.NewRedisStore(rdb.Client, cfg.PickupKeyPrefix)
		checks["redis"] = rdb.Healthy
		slog.Info("realtime fan-out and pending releases through redis",
			"addr", cfg.RedisAddr, "channel", cfg.RealtimeChannel, "prefix", cfg.PickupKeyPrefix)
	}

	var feed attendance.Feed
	if cfg.AMQPURL != "" {
		pub, err := notify.Dial(cfg.AMQPURL, cfg.AMQPQueue, cfg.MovementBreaker)
		if err != nil {
			slog.Warn("movement feed disabled: amqp not reachable", "error", err)
		} else {
			defer pub.Close()
			feed = pub
			slog.Info("movement feed enabled", "queue", cfg.AMQPQueue)
		}
	}

	dir := directory.NewRepository(db.Client)
	records := attendance.NewRepository(db.Client)
	plans := lessonplan.NewRepository(db.Client)

	hub := realtime.NewHub(broker)
	defer hub.Close()

	coord := pickup.NewCoordinator(
		badge.NewResolver(dir),
		attendance.NewService(records, feed),
		hub,
		pickup.Options{TTL: cfg.PickupTTL, SweepInterval: cfg.PickupSweepInterval, Store: pending},
	)
	hub.Handle(realtime.EventReleaseDecision, coord.HandleDecision)

	go func() {
		if err := hub.Run(ctx); err != nil {
			slog.Error("realtime relay stopped", "error", err)
		}
	}()
	go func() {
		_ = coord.Run(ctx)
	}()

	router := httpapi.NewRouter(httpapi.Deps{
		Directory:  dir,
		Attendance: records,
		Plans:      plans,
		Pickup:     coord,
		Hub:        hub,
		Checks:     checks,
	}, httpapi.Options{
		JWTIssuer:       cfg.JWTIssuer,
		JWTSigningKey:   cfg.JWTSigningKey,
		AccessTTL:       cfg.AccessTTL,
		RefreshTTL:      cfg.RefreshTTL,
		RequireAuth:     cfg.RequireAuth,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		ReportDays:      cfg.ReportDays,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.HTTPPort, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server forced shutdown", "error", err)
	}
	slog.Info("server exited")
	return nil
}
