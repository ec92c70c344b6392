package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/practitioner-booking/internal/api"
	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/calendar"
	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/db"
	"github.com/hackgods/practitioner-booking/internal/logger"
	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
)

const (
	version          = "0.1.0"
	calendarRetryKey = "calendar:retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}).Fatal("config load error", "error", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "api-server",
	})
	log.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", "error", err)
	}
	defer pgPool.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migrateCtx, pgPool)
	cancelMigrate()
	if err != nil {
		log.Fatal("schema migration error", "error", err)
	}
	log.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", "error", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("error closing redis", "error", err)
		}
	}()
	log.Info("connected to Redis")

	repo := booking.NewPgRepository(pgPool, cfg.StoreTimeout)
	locker := redisclient.NewRedisLocker(rdb, cfg.GroupLockTTL)

	var gateway calendar.Gateway = calendar.NoopGateway{}
	if cfg.CalendarEnabled() {
		gateway = calendar.NewHTTPGateway(cfg.CalendarBaseURL, cfg.CalendarAPIKey, cfg.CalendarTimeout)
	} else {
		log.Warn("CALENDAR_BASE_URL not set, calendar sync disabled")
	}

	dispatcher := calendar.NewDispatcher(
		gateway,
		repo,
		redisclient.NewListQueue(rdb, calendarRetryKey),
		log,
		calendar.DispatcherConfig{
			Timeout:     cfg.CalendarTimeout,
			Concurrency: cfg.CalendarConcurrency,
			MaxAttempts: cfg.CalendarMaxAttempts,
		},
	)

	svc := booking.NewService(repo, locker, dispatcher, log, cfg)

	health := api.NewHealthHandler(
		pgPool,
		api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		cfg.Env,
		version,
	)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:        svc,
			Health:         health,
			Log:            log,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn("calendar calls still in flight at shutdown", "error", err)
	}

	log.Info("api-server stopped")
}
