package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/service"
	"activation_backend/internal/scheduler"

	"github.com/spf13/cobra"
)

var runTimezone string

// runCmd executes one engine run in the foreground.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the activation engine once and print the result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if runTimezone != "" {
			if err := e.val.Var(runTimezone, "timezone"); err != nil {
				return fmt.Errorf("unknown timezone %q", runTimezone)
			}
		}

		svc, err := e.service(true)
		if err != nil {
			return err
		}

		release, err := e.acquireRunLock(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.GetActivationRunTimeout())
		defer cancel()
		result := svc.Run(ctx, service.RunRequest{UserTimezone: runTimezone, Trigger: domain.RunTriggerCLI})
		if err := printRunSummary(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("run %s failed: %s", result.RunID, result.Message)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTimezone, "timezone", "", "IANA zone of the watermark (defaults to the stored settings)")
}

// acquireRunLock takes the shared run lock the scheduler workers use. Without
// Redis only the in-process guard applies.
func (e *env) acquireRunLock(ctx context.Context) (func(), error) {
	if e.cfg.GetRedisURL() == "" {
		e.log.Warn("REDIS_URL not set, running without the shared run lock")
		return func() {}, nil
	}
	rdb, err := scheduler.NewRedisClient(e.cfg.GetRedisURL(), e.cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	unlock, ok, err := scheduler.NewRunLock(rdb).TryAcquire(ctx, e.cfg.GetActivationRunTimeout())
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	if !ok {
		_ = rdb.Close()
		return nil, fmt.Errorf("another activation run holds the lock")
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("activation run lock release failed", "error", err)
		}
		_ = rdb.Close()
	}, nil
}

type runSummary struct {
	RunID       string   `json:"run_id"`
	Success     bool     `json:"success"`
	Message     string   `json:"message,omitempty"`
	Demoted     []string `json:"demoted"`
	Incremented []string `json:"incremented"`
	Created     []string `json:"created"`
	Diagnostics int      `json:"diagnostics"`
	Watermark   string   `json:"watermark,omitempty"`
}

func summarize(result service.Result) runSummary {
	s := runSummary{
		RunID:       result.RunID.String(),
		Success:     result.Success,
		Message:     result.Message,
		Demoted:     accountIDs(result.Demoted),
		Incremented: accountIDs(result.Incremented),
		Created:     accountIDs(result.Created),
		Diagnostics: len(result.Diagnostics),
	}
	if result.Watermark != nil {
		s.Watermark = result.Watermark.Format(time.RFC3339)
	}
	return s
}

func printRunSummary(w io.Writer, result service.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summarize(result))
}

func accountIDs(list []*domain.Activation) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.AccountID)
	}
	return out
}
