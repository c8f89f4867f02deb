package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunTrigger names what started an engine run.
type RunTrigger string

const (
	RunTriggerSchedule RunTrigger = "schedule"
	RunTriggerManual   RunTrigger = "manual"
	RunTriggerCLI      RunTrigger = "cli"
)

// Run is the history record of one UpdateActivationStates invocation.
type Run struct {
	ID               uuid.UUID  `json:"id"`
	Trigger          RunTrigger `json:"trigger"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Success          bool       `json:"success"`
	Message          string     `json:"message,omitempty"`
	DemotedCount     int        `json:"demoted_count"`
	IncrementedCount int        `json:"incremented_count"`
	CreatedCount     int        `json:"created_count"`
	DiagnosticsCount int        `json:"diagnostics_count"`
	Watermark        *time.Time `json:"watermark,omitempty"`
}

// Finished reports whether the run has completed, successfully or not.
func (r Run) Finished() bool {
	return r.FinishedAt != nil
}
