package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"activation_backend/platform/apperr"
	"activation_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client     *asynq.Client
	queue      string
	runTimeout time.Duration
}

// RunEnqueuer queues an activation run for the worker.
type RunEnqueuer interface {
	EnqueueActivationRun(ctx context.Context, payload ActivationRunPayload) (string, error)
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client:     asynq.NewClient(opt),
		queue:      queueName(cfg),
		runTimeout: cfg.GetActivationRunTimeout(),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueActivationRun queues one run and returns the task ID. A run already
// waiting in the queue is reported as a conflict.
func (c *Client) EnqueueActivationRun(ctx context.Context, payload ActivationRunPayload) (string, error) {
	task, err := NewActivationRunTask(payload)
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task, runTaskOptions(c.queue, c.runTimeout)...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", apperr.Conflict("an activation run is already queued")
	}
	if err != nil {
		return "", fmt.Errorf("enqueue activation run: %w", err)
	}
	return info.ID, nil
}

// runTaskOptions are shared by on-demand and periodic runs. Runs are not
// retried by the queue; the next schedule picks up where a failed run stopped.
func runTaskOptions(queue string, timeout time.Duration) []asynq.Option {
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(0)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout), asynq.Unique(timeout))
	}
	return opts
}

func queueName(cfg config.SchedulerConfig) string {
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return "default"
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redisOptions(redisURL, tlsInsecure)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

func redisOptions(redisURL string, tlsInsecure bool) (*redis.Options, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if tlsInsecure {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return opt, nil
}
