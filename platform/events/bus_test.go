package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"activation_backend/platform/logger"
)

type testEvent struct {
	BaseEvent
}

func (testEvent) EventName() string { return "test.happened" }

func TestPublishSyncJoinsHandlerErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))
	var calls int32

	bus.Subscribe("test.happened", HandlerFunc(func(ctx context.Context, event Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("first failed")
	}))
	bus.Subscribe("test.happened", HandlerFunc(func(ctx context.Context, event Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent()})
	if err == nil {
		t.Fatalf("expected joined error, got nil")
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestPublishRecoversFromPanics(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))
	var calls int32

	bus.Subscribe("test.happened", HandlerFunc(func(ctx context.Context, event Event) error {
		panic("boom")
	}))
	bus.Subscribe("test.happened", HandlerFunc(func(ctx context.Context, event Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent()})
	bus.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected surviving handler to run once, got %d", calls)
	}
}

func TestNewBaseEventAtUsesGivenTime(t *testing.T) {
	at := time.Date(2024, time.March, 20, 13, 0, 0, 0, time.FixedZone("CET", 3600))

	a := NewBaseEventAt(at)
	b := NewBaseEventAt(at)

	if !a.OccurredAt().Equal(at) || a.OccurredAt().Location() != time.UTC {
		t.Fatalf("expected %v in UTC, got %v", at, a.OccurredAt())
	}
	if a.EventID() == "" || a.EventID() == b.EventID() {
		t.Fatalf("expected distinct event IDs, got %q and %q", a.EventID(), b.EventID())
	}
}
