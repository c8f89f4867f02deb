package scheduler

import (
	"context"
	"fmt"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/platform/config"
	"activation_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Periodic enqueues activation runs on the configured cron schedule.
type Periodic struct {
	scheduler *asynq.Scheduler
	entryID   string
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Warn("periodic activation run not enqueued", "error", err)
				return
			}
			log.Info("periodic activation run enqueued", "task_id", info.ID)
		},
	})

	task, err := NewActivationRunTask(ActivationRunPayload{Trigger: domain.RunTriggerSchedule})
	if err != nil {
		return nil, err
	}
	entryID, err := scheduler.Register(cfg.GetActivationRunSchedule(), task, runTaskOptions(queueName(cfg), cfg.GetActivationRunTimeout())...)
	if err != nil {
		return nil, fmt.Errorf("register activation schedule %q: %w", cfg.GetActivationRunSchedule(), err)
	}

	return &Periodic{scheduler: scheduler, entryID: entryID, log: log}, nil
}

func (p *Periodic) Run(ctx context.Context) {
	if p == nil || p.scheduler == nil {
		return
	}

	if err := p.scheduler.Start(); err != nil {
		p.log.Error("periodic scheduler failed to start", "error", err)
		return
	}
	p.log.Info("periodic scheduler started", "entry_id", p.entryID)

	<-ctx.Done()
	p.scheduler.Shutdown()
}
