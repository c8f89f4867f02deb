// Package service runs the activation engine against the CRM and the store
// and serves the admin queries of the activations context.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/engine"
	"activation_backend/internal/activations/filter"
	"activation_backend/internal/activations/ports"
	"activation_backend/internal/activations/timeutil"
	"activation_backend/internal/events"
	"activation_backend/platform/apperr"
	"activation_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service provides the activation engine and its admin operations.
type Service struct {
	crm             ports.CRM
	store           ports.ActivationStore
	runs            ports.RunRecorder
	archiver        ports.SnapshotArchiver
	bus             events.Bus
	clock           timeutil.Clock
	log             *logger.Logger
	defaultTimezone string

	// running is held for the duration of a run in this process.
	running sync.Mutex
}

// New creates the activations service.
func New(crm ports.CRM, store ports.ActivationStore, log *logger.Logger) *Service {
	return &Service{
		crm:             crm,
		store:           store,
		clock:           timeutil.SystemClock{},
		log:             log,
		defaultTimezone: "UTC",
	}
}

// SetRunRecorder enables run history.
func (s *Service) SetRunRecorder(runs ports.RunRecorder) {
	s.runs = runs
}

// SetArchiver enables run snapshot archiving.
func (s *Service) SetArchiver(archiver ports.SnapshotArchiver) {
	s.archiver = archiver
}

// SetEventBus injects the event bus for activation events.
func (s *Service) SetEventBus(bus events.Bus) {
	s.bus = bus
}

// SetClock replaces the wall clock, used by tests and replays.
func (s *Service) SetClock(clock timeutil.Clock) {
	s.clock = clock
}

// SetDefaultTimezone sets the watermark zone used when neither the request nor the settings name one.
func (s *Service) SetDefaultTimezone(tz string) {
	if tz != "" {
		s.defaultTimezone = tz
	}
}

// GetSettings returns the stored settings.
func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.store.LoadSettings(ctx)
}

// UpdateSettings normalizes filter logic to the stored form, checks that every
// container compiles and saves the settings. The watermark is kept unless the
// update carries one.
func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	current, err := s.store.LoadSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}

	for i := range settings.Criteria {
		settings.Criteria[i].FilterLogic = filter.ToStoredLogic(settings.Criteria[i].FilterLogic)
	}
	if settings.MeetingsCriteria != nil {
		settings.MeetingsCriteria.FilterLogic = filter.ToStoredLogic(settings.MeetingsCriteria.FilterLogic)
	}
	if settings.OpportunityCriteria != nil {
		settings.OpportunityCriteria.FilterLogic = filter.ToStoredLogic(settings.OpportunityCriteria.FilterLogic)
	}
	if _, err := engine.CompileCriteria(settings); err != nil {
		return domain.Settings{}, apperr.Wrap(apperr.KindValidation, "invalid criteria", err).WithOp("activations.UpdateSettings")
	}
	if settings.UserTimezone != "" {
		if _, err := time.LoadLocation(settings.UserTimezone); err != nil {
			return domain.Settings{}, apperr.Validation(fmt.Sprintf("unknown timezone %q", settings.UserTimezone))
		}
	}
	if settings.MeetingObject == "" {
		settings.MeetingObject = domain.MeetingObjectEvent
	}
	if settings.LatestDateQueried == nil {
		settings.LatestDateQueried = current.LatestDateQueried
	}
	settings.UpdatedAt = s.clock.Now().UTC()

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}
	s.log.Info("activation settings updated", "criteria", len(settings.Criteria), "team_members", len(settings.TeamMemberIDs))
	return settings, nil
}

// ListActivations returns a page of activations and the total count.
func (s *Service) ListActivations(ctx context.Context, params ports.ListParams) ([]*domain.Activation, int, error) {
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	if params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	return s.store.List(ctx, params)
}

// GetActivation returns one activation.
func (s *Service) GetActivation(ctx context.Context, id uuid.UUID) (*domain.Activation, error) {
	return s.store.GetByID(ctx, id)
}

// ListRuns returns the most recent runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if s.runs == nil {
		return nil, nil
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	return s.runs.ListRuns(ctx, limit)
}

// CleanupRuns deletes run history and archived snapshots older than retention.
func (s *Service) CleanupRuns(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().UTC().Add(-retention)
	var deleted int64
	if s.runs != nil {
		n, err := s.runs.DeleteRunsBefore(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		deleted = n
	}
	if s.archiver != nil {
		n, err := s.archiver.PruneBefore(ctx, cutoff)
		if err != nil {
			return deleted, fmt.Errorf("prune run snapshots: %w", err)
		}
		s.log.Info("run snapshots pruned", "count", n, "cutoff", cutoff)
	}
	return deleted, nil
}

// DescribeObject lists the CRM fields of an object, used to build filters.
func (s *Service) DescribeObject(ctx context.Context, name string) ([]domain.FieldDescription, error) {
	if name == "" {
		return nil, apperr.Validation("object name is required")
	}
	return s.crm.DescribeSObject(ctx, name)
}
