package service

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/filter"
	"activation_backend/internal/activations/ports"
	"activation_backend/internal/events"
	"activation_backend/platform/apperr"

	"github.com/google/uuid"
)

type fakeCRM struct {
	mu             sync.Mutex
	users          []domain.User
	accounts       []domain.Account
	contactAccount map[string]string
	tasks          []domain.Task
	events         []domain.Event
	opps           []domain.Opportunity
	err            error
	taskQueries    int

	// gate, when set, parks task queries until closed; entered closes on the first one.
	gate      chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{contactAccount: make(map[string]string)}
}

func (f *fakeCRM) DescribeSObject(_ context.Context, name string) ([]domain.FieldDescription, error) {
	return []domain.FieldDescription{{Name: "Subject", Type: "string", Label: name + " Subject"}}, f.err
}

func (f *fakeCRM) FetchUsers(_ context.Context, _ []string) ([]domain.User, error) {
	return f.users, f.err
}

func (f *fakeCRM) FetchAccountsByIDs(_ context.Context, ids []string) ([]domain.Account, error) {
	var out []domain.Account
	for _, a := range f.accounts {
		if slices.Contains(ids, a.ID) {
			out = append(out, a)
		}
	}
	return out, f.err
}

func (f *fakeCRM) FetchContactsByAccountIDs(_ context.Context, accountIDs []string) ([]domain.Contact, error) {
	var out []domain.Contact
	for contactID, accountID := range f.contactAccount {
		if slices.Contains(accountIDs, accountID) {
			out = append(out, domain.Contact{ID: contactID, AccountID: accountID})
		}
	}
	return out, f.err
}

func (f *fakeCRM) FetchContactsByIDs(_ context.Context, ids []string) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, id := range ids {
		if accountID, ok := f.contactAccount[id]; ok {
			out = append(out, domain.Contact{ID: id, AccountID: accountID})
		}
	}
	return out, f.err
}

func (f *fakeCRM) FetchTasksMatchingAny(_ context.Context, since time.Time, criteria []domain.FilterContainer, exclude domain.IDSet, ownerIDs []string) ([]domain.Task, error) {
	if f.gate != nil {
		f.enterOnce.Do(func() { close(f.entered) })
		<-f.gate
	}
	f.mu.Lock()
	f.taskQueries++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Task
	for _, t := range f.tasks {
		if t.CreatedDate.Before(since) || exclude.Contains(t.ID) {
			continue
		}
		if len(ownerIDs) > 0 && !slices.Contains(ownerIDs, t.OwnerID) {
			continue
		}
		for _, c := range criteria {
			if ok, err := filter.Matches(t, c); err == nil && ok {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeCRM) FetchOpportunitiesByAccountIDs(_ context.Context, accountIDs []string, since time.Time, _ []string) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for _, o := range f.opps {
		if slices.Contains(accountIDs, o.AccountID) && !o.CreatedDate.Before(since) {
			out = append(out, o)
		}
	}
	return out, f.err
}

func (f *fakeCRM) FetchEventsByContactIDs(_ context.Context, contactIDs []string, since time.Time, _ []string, _ *domain.FilterContainer) (map[string][]domain.Event, error) {
	out := make(map[string][]domain.Event)
	for _, e := range f.events {
		if slices.Contains(contactIDs, e.WhoID) && !e.CreatedDate.Before(since) {
			out[e.WhoID] = append(out[e.WhoID], e)
		}
	}
	return out, f.err
}

type fakeStore struct {
	mu          sync.Mutex
	activations map[uuid.UUID]*domain.Activation
	settings    domain.Settings
	runs        map[uuid.UUID]domain.Run
	upserts     int
}

func newFakeStore(settings domain.Settings) *fakeStore {
	return &fakeStore{
		activations: make(map[uuid.UUID]*domain.Activation),
		settings:    settings,
		runs:        make(map[uuid.UUID]domain.Run),
	}
}

func (f *fakeStore) load(keep func(*domain.Activation) bool) []*domain.Activation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Activation
	for _, a := range f.activations {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstProspectingActivity.Equal(out[j].FirstProspectingActivity) {
			return out[i].FirstProspectingActivity.Before(out[j].FirstProspectingActivity)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (f *fakeStore) LoadActive(_ context.Context, _ ports.OrderBy) ([]*domain.Activation, error) {
	return f.load(func(a *domain.Activation) bool { return a.Status.IsActive() }), nil
}

func (f *fakeStore) LoadUnresponsive(_ context.Context) ([]*domain.Activation, error) {
	return f.load(func(a *domain.Activation) bool { return !a.Status.IsActive() }), nil
}

func (f *fakeStore) all() []*domain.Activation {
	return f.load(func(*domain.Activation) bool { return true })
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Activation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.activations[id]
	if !ok {
		return nil, apperr.NotFound("activation not found")
	}
	return a.Clone(), nil
}

func (f *fakeStore) List(_ context.Context, params ports.ListParams) ([]*domain.Activation, int, error) {
	all := f.all()
	return all, len(all), nil
}

func (f *fakeStore) Upsert(_ context.Context, activations []*domain.Activation) (ports.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	var res ports.UpsertResult
	for _, a := range activations {
		if _, ok := f.activations[a.ID]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		f.activations[a.ID] = a.Clone()
	}
	return res, nil
}

func (f *fakeStore) LoadSettings(_ context.Context) (domain.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

func (f *fakeStore) SaveSettings(_ context.Context, settings domain.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = settings
	return nil
}

func (f *fakeStore) SaveRun(_ context.Context, run domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) ListRuns(_ context.Context, limit int) ([]domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Run
	for _, r := range f.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) DeleteRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.runs {
		if r.StartedAt.Before(cutoff) {
			delete(f.runs, id)
			n++
		}
	}
	return n, nil
}

type fakeArchiver struct {
	keys []string
}

func (f *fakeArchiver) PutJSON(_ context.Context, key string, _ []byte) error {
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeArchiver) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	prefix := "runs/" + cutoff.UTC().Format(time.DateOnly)
	kept := f.keys[:0]
	n := 0
	for _, k := range f.keys {
		if k < prefix {
			n++
			continue
		}
		kept = append(kept, k)
	}
	f.keys = kept
	return n, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.EventName()
	}
	return out
}
