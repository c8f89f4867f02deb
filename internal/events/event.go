// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"activation_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewBaseEventAt = events.NewBaseEventAt
)

// =============================================================================
// Activation Domain Events
// =============================================================================

// ActivationCreated is published when the engine detects a new activation.
type ActivationCreated struct {
	BaseEvent
	ActivationID  uuid.UUID `json:"activationId"`
	AccountID     string    `json:"accountId"`
	AccountName   string    `json:"accountName,omitempty"`
	ActivatedBy   string    `json:"activatedBy"`
	Status        string    `json:"status"`
	ActivatedDate time.Time `json:"activatedDate"`
}

func (e ActivationCreated) EventName() string { return "activations.activation.created" }

// PartitionKey keeps the events of one account in order on a partitioned transport.
func (e ActivationCreated) PartitionKey() string { return e.AccountID }

// ActivationStatusChanged is published when an existing activation moves to another status.
type ActivationStatusChanged struct {
	BaseEvent
	ActivationID uuid.UUID `json:"activationId"`
	AccountID    string    `json:"accountId"`
	From         string    `json:"from"`
	To           string    `json:"to"`
}

func (e ActivationStatusChanged) EventName() string { return "activations.activation.status_changed" }

func (e ActivationStatusChanged) PartitionKey() string { return e.AccountID }

// ActivationsRunCompleted is published at the end of every engine run.
type ActivationsRunCompleted struct {
	BaseEvent
	RunID       uuid.UUID `json:"runId"`
	Trigger     string    `json:"trigger"`
	Success     bool      `json:"success"`
	Message     string    `json:"message,omitempty"`
	Demoted     int       `json:"demoted"`
	Incremented int       `json:"incremented"`
	Created     int       `json:"created"`
	Diagnostics int       `json:"diagnostics"`
}

func (e ActivationsRunCompleted) EventName() string { return "activations.run.completed" }

func (e ActivationsRunCompleted) PartitionKey() string { return e.RunID.String() }

// AllEventNames lists every activation event, used to register forwarders.
func AllEventNames() []string {
	return []string{
		ActivationCreated{}.EventName(),
		ActivationStatusChanged{}.EventName(),
		ActivationsRunCompleted{}.EventName(),
	}
}
