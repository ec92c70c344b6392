package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/calendar"
	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/db"
	"github.com/hackgods/practitioner-booking/internal/logger"
	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
)

const (
	calendarRetryKey = "calendar:retry"
	batchSize        = 100
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}).Fatal("config load error", "error", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "calendar-worker",
	})
	log.Info("calendar-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval)

	if !cfg.CalendarEnabled() {
		log.Fatal("CALENDAR_BASE_URL is required for the calendar worker")
	}

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
	log.Info("connected to Postgres")

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

	queue := redisclient.NewListQueue(rdb, calendarRetryKey)
	dispatcher := calendar.NewDispatcher(
		calendar.NewHTTPGateway(cfg.CalendarBaseURL, cfg.CalendarAPIKey, cfg.CalendarTimeout),
		booking.NewPgRepository(pgPool, cfg.StoreTimeout),
		queue,
		log,
		calendar.DispatcherConfig{
			Timeout:     cfg.CalendarTimeout,
			Concurrency: cfg.CalendarConcurrency,
			MaxAttempts: cfg.CalendarMaxAttempts,
		},
	)

	// Run once at startup
	runOnce(rootCtx, log, dispatcher, queue)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping calendar worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, dispatcher, queue)
		}
	}
}

func runOnce(ctx context.Context, log *logger.Logger, d *calendar.Dispatcher, q *redisclient.ListQueue) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	n, err := d.Drain(runCtx, batchSize)
	if err != nil {
		log.Error("calendar retry run error", "processed", n, "error", err)
		return
	}

	pending, err := q.Len(runCtx)
	if err != nil {
		log.Warn("could not read retry queue length", "error", err)
	}
	log.Info("calendar retry run complete",
		"processed", n,
		"pending", pending,
		"duration", time.Since(start),
	)
}
