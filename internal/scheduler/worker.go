package scheduler

import (
	"context"
	"fmt"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/service"
	"activation_backend/platform/config"
	"activation_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const defaultRunTimeout = 20 * time.Minute

// ActivationRunner runs the activation engine once.
type ActivationRunner interface {
	Run(ctx context.Context, req service.RunRequest) service.Result
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	runner  ActivationRunner
	lock    *RunLock
	timeout time.Duration
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runner ActivationRunner, lock *RunLock, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 2
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := newWorker(runner, lock, cfg.GetActivationRunTimeout(), log)
	w.server = server
	w.mux = mux

	mux.HandleFunc(TaskActivationsUpdateStates, w.handleActivationRun)

	return w, nil
}

func newWorker(runner ActivationRunner, lock *RunLock, timeout time.Duration, log *logger.Logger) *Worker {
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	return &Worker{runner: runner, lock: lock, timeout: timeout, log: log}
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleActivationRun runs the engine under the run lock. A run that finds the
// lock held is skipped, not retried. Failed runs are reported to asynq
// without retry; the next schedule resumes from the stored watermark.
func (w *Worker) handleActivationRun(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseActivationRunPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.Trigger == "" {
		payload.Trigger = domain.RunTriggerSchedule
	}

	if w.lock != nil {
		release, ok, err := w.lock.TryAcquire(ctx, w.timeout)
		if err != nil {
			return err
		}
		if !ok {
			w.log.Info("activation run skipped, another run holds the lock", "trigger", payload.Trigger)
			return nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				w.log.Warn("activation run lock release failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	res := w.runner.Run(ctx, service.RunRequest{UserTimezone: payload.UserTimezone, Trigger: payload.Trigger})
	if !res.Success {
		return fmt.Errorf("%w: activation run %s failed: %s", asynq.SkipRetry, res.RunID, res.Message)
	}
	return nil
}
