// Package events carries engine notifications from the activation service to
// in-process subscribers and, through them, to external transports.
// This is part of the platform layer and contains no business logic.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every notification published on a Bus.
type Event interface {
	// EventName identifies the event type; subscribers register against it.
	EventName() string
	// OccurredAt is the engine time the event refers to.
	OccurredAt() time.Time
}

// BaseEvent carries the identity and timestamp shared by all events.
// Embed it in concrete events.
type BaseEvent struct {
	ID        string    `json:"eventId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt returns the event timestamp.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// EventID returns the unique event ID, empty for hand-built events.
func (e BaseEvent) EventID() string {
	return e.ID
}

// NewBaseEvent stamps an event with the wall clock.
func NewBaseEvent() BaseEvent {
	return NewBaseEventAt(time.Now())
}

// NewBaseEventAt stamps an event with t, normalised to UTC.
func NewBaseEventAt(t time.Time) BaseEvent {
	return BaseEvent{ID: uuid.NewString(), Timestamp: t.UTC()}
}

// Handler processes events of a specific type.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus routes events to the handlers subscribed to their name.
type Bus interface {
	// Publish delivers event asynchronously; handler errors are logged.
	Publish(ctx context.Context, event Event)

	// PublishSync delivers event and returns the joined handler errors.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers handler for eventName, as returned by Event.EventName.
	Subscribe(eventName string, handler Handler)
}
