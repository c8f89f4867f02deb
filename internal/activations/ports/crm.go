// Package ports defines the interfaces the activations context requires from
// external systems. Implementations are provided by the composition root so
// the engine never imports a CRM SDK or a database driver directly.
package ports

import (
	"context"
	"time"

	"activation_backend/internal/activations/domain"
)

// SchemaDescriber exposes CRM object metadata.
type SchemaDescriber interface {
	// DescribeSObject lists the fields of a CRM object.
	DescribeSObject(ctx context.Context, name string) ([]domain.FieldDescription, error)
}

// DirectoryReader loads users, accounts and contacts.
type DirectoryReader interface {
	// FetchUsers returns the users with the given IDs, or every active user when ids is empty.
	FetchUsers(ctx context.Context, ids []string) ([]domain.User, error)
	FetchAccountsByIDs(ctx context.Context, ids []string) ([]domain.Account, error)
	FetchContactsByAccountIDs(ctx context.Context, accountIDs []string) ([]domain.Contact, error)
	FetchContactsByIDs(ctx context.Context, ids []string) ([]domain.Contact, error)
}

// ActivityReader loads the activity records the engine evaluates.
type ActivityReader interface {
	// FetchTasksMatchingAny returns tasks created at or after since that match
	// at least one of the criteria, are owned by one of ownerIDs (any owner
	// when empty) and are not in exclude.
	FetchTasksMatchingAny(ctx context.Context, since time.Time, criteria []domain.FilterContainer, exclude domain.IDSet, ownerIDs []string) ([]domain.Task, error)
	FetchOpportunitiesByAccountIDs(ctx context.Context, accountIDs []string, since time.Time, ownerIDs []string) ([]domain.Opportunity, error)
	// FetchEventsByContactIDs returns events keyed by WhoId. A nil meetings
	// container applies no additional filter.
	FetchEventsByContactIDs(ctx context.Context, contactIDs []string, since time.Time, ownerIDs []string, meetings *domain.FilterContainer) (map[string][]domain.Event, error)
}

// CRM is the full CRM contract. Implementations must be safe for concurrent use.
type CRM interface {
	SchemaDescriber
	DirectoryReader
	ActivityReader
}
