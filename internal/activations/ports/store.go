package ports

import (
	"context"
	"time"

	"activation_backend/internal/activations/domain"

	"github.com/google/uuid"
)

// OrderBy selects the sort column of LoadActive.
type OrderBy string

const (
	OrderByFirstProspecting OrderBy = "first_prospecting_activity"
	OrderByActivatedDate    OrderBy = "activated_date"
	OrderByUpdatedAt        OrderBy = "updated_at"
)

// ListParams filters the admin activation listing.
type ListParams struct {
	Status    *domain.Status
	AccountID string
	Offset    int
	Limit     int
}

// UpsertResult reports how an upsert batch was applied.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// Total returns the number of rows written.
func (r UpsertResult) Total() int {
	return r.Inserted + r.Updated
}

// ActivationReader provides read access to stored activations.
type ActivationReader interface {
	// LoadActive returns every activation whose status is not Unresponsive.
	LoadActive(ctx context.Context, orderBy OrderBy) ([]*domain.Activation, error)
	LoadUnresponsive(ctx context.Context) ([]*domain.Activation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Activation, error)
	List(ctx context.Context, params ListParams) ([]*domain.Activation, int, error)
}

// ActivationWriter persists activations. Upsert is idempotent on activation ID.
type ActivationWriter interface {
	Upsert(ctx context.Context, activations []*domain.Activation) (UpsertResult, error)
}

// SettingsStore persists the single settings document.
type SettingsStore interface {
	// LoadSettings returns the stored settings or the defaults when none were saved.
	LoadSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) error
}

// ActivationStore is the persistence contract of the orchestrator.
type ActivationStore interface {
	ActivationReader
	ActivationWriter
	SettingsStore
}

// RunRecorder keeps the history of engine runs.
type RunRecorder interface {
	// SaveRun inserts the run or updates it when the ID already exists.
	SaveRun(ctx context.Context, run domain.Run) error
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SnapshotArchiver stores opaque run snapshots, e.g. in object storage.
// Keys start with "runs/YYYY-MM-DD/".
type SnapshotArchiver interface {
	PutJSON(ctx context.Context, key string, body []byte) error
	// PruneBefore deletes snapshots of runs started before cutoff's date.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
