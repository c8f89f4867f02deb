package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"activation_backend/internal/activations"
	"activation_backend/internal/crm"
	"activation_backend/internal/events"
	"activation_backend/internal/scheduler"
	"activation_backend/platform/config"
	"activation_backend/platform/db"
	"activation_backend/platform/kafka"
	"activation_backend/platform/logger"
	"activation_backend/platform/storage"
	"activation_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "schedule", cfg.GetActivationRunSchedule())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	if cfg.IsKafkaEnabled() {
		forwarder, err := kafka.NewForwarder(cfg, log)
		if err != nil {
			log.Error("failed to initialize kafka forwarder", "error", err)
			panic("failed to initialize kafka forwarder: " + err.Error())
		}
		defer func() { _ = forwarder.Close() }()
		forwarder.Register(eventBus, events.AllEventNames()...)
	}
	defer eventBus.Wait()

	crmClient, err := crm.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize salesforce client", "error", err)
		panic("failed to initialize salesforce client: " + err.Error())
	}

	// Worker-side engine wiring (no HTTP handlers required).
	activationsModule := activations.NewModule(pool, crmClient, eventBus, validator.New(), log, cfg.GetUserTimezone())
	if cfg.IsMinIOEnabled() {
		archive, err := storage.NewMinIOArchive(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		activationsModule.SetArchiver(archive)
	}
	svc := activationsModule.Service()

	rdb, err := scheduler.NewRedisClient(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	defer func() { _ = rdb.Close() }()

	periodic, err := scheduler.NewPeriodic(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}
	go periodic.Run(ctx)

	cleanupInterval := getDurationEnv("ACTIVATION_RUN_CLEANUP_INTERVAL", 6*time.Hour)
	runCleanup := scheduler.NewRunHistoryCleanup(svc, log, cleanupInterval, cfg.GetActivationRunRetention())
	go runCleanup.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, svc, scheduler.NewRunLock(rdb), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
