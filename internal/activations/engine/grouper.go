package engine

import (
	"cmp"
	"slices"
	"time"

	"activation_backend/internal/activations/domain"

	"golang.org/x/sync/errgroup"
)

const stageGrouper = "grouper"

// Grouped is the result of grouping tasks: account → contact → criterion → tasks.
// Leaf lists are in ascending CreatedDate order, ties broken by task ID.
type Grouped struct {
	Buckets map[string]map[string]map[string][]domain.Task
	// MeetingTasks holds, per account, tasks matching the meetings criteria.
	MeetingTasks map[string][]domain.Task
}

// Accounts returns the grouped account IDs in sorted order.
func (g Grouped) Accounts() []string {
	ids := make([]string, 0, len(g.Buckets))
	for id := range g.Buckets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Without returns a copy of g minus the tasks in skip. Empty buckets are dropped.
func (g Grouped) Without(skip domain.IDSet) Grouped {
	return g.filter(func(t domain.Task) bool { return !skip.Contains(t.ID) })
}

// Since returns a copy of g holding only tasks created at or after t.
func (g Grouped) Since(t time.Time) Grouped {
	return g.filter(func(task domain.Task) bool { return !task.CreatedDate.Before(t) })
}

func (g Grouped) filter(keep func(domain.Task) bool) Grouped {
	out := Grouped{
		Buckets:      make(map[string]map[string]map[string][]domain.Task, len(g.Buckets)),
		MeetingTasks: make(map[string][]domain.Task, len(g.MeetingTasks)),
	}
	kept := func(tasks []domain.Task) []domain.Task {
		var out []domain.Task
		for _, t := range tasks {
			if keep(t) {
				out = append(out, t)
			}
		}
		return out
	}
	for accountID, byContact := range g.Buckets {
		for contactID, byCriterion := range byContact {
			for name, tasks := range byCriterion {
				k := kept(tasks)
				if len(k) == 0 {
					continue
				}
				if out.Buckets[accountID] == nil {
					out.Buckets[accountID] = make(map[string]map[string][]domain.Task)
				}
				if out.Buckets[accountID][contactID] == nil {
					out.Buckets[accountID][contactID] = make(map[string][]domain.Task)
				}
				out.Buckets[accountID][contactID][name] = k
			}
		}
	}
	for accountID, tasks := range g.MeetingTasks {
		if k := kept(tasks); len(k) > 0 {
			out.MeetingTasks[accountID] = k
		}
	}
	return out
}

// SortTasks orders tasks by CreatedDate then ID.
func SortTasks(tasks []domain.Task) {
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		if c := a.CreatedDate.Compare(b.CreatedDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Grouper buckets tasks by account, contact and matching criterion.
type Grouper struct {
	criteria *Criteria
	diag     *Diagnostics
	// includeMeetings also evaluates the meetings criteria, used when meetings are tasks.
	includeMeetings bool
}

// NewGrouper creates a grouper over compiled criteria.
func NewGrouper(criteria *Criteria, includeMeetings bool, diag *Diagnostics) *Grouper {
	return &Grouper{criteria: criteria, includeMeetings: includeMeetings, diag: diag}
}

// Group evaluates every task against every criterion in parallel, then
// assembles the buckets serially. Tasks with an unknown WhoId or an ID in
// skip are dropped. A task that fails evaluation against any criterion is
// reported and left out entirely.
func (g *Grouper) Group(tasks []domain.Task, contactAccount map[string]string, skip domain.IDSet) Grouped {
	candidates := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if skip.Contains(t.ID) {
			continue
		}
		if _, ok := contactAccount[t.WhoID]; !ok {
			continue
		}
		candidates = append(candidates, t)
	}
	SortTasks(candidates)

	matchers := g.criteria.All
	if g.includeMeetings && g.criteria.Meetings != nil {
		matchers = append(slices.Clone(matchers), g.criteria.Meetings)
	}

	hits := make([][]bool, len(matchers))
	failed := make([][]error, len(matchers))
	var eg errgroup.Group
	for i, m := range matchers {
		eg.Go(func() error {
			row := make([]bool, len(candidates))
			errs := make([]error, len(candidates))
			for j, t := range candidates {
				row[j], errs[j] = m.Matches(t)
			}
			hits[i] = row
			failed[i] = errs
			return nil
		})
	}
	_ = eg.Wait()

	out := Grouped{
		Buckets:      make(map[string]map[string]map[string][]domain.Task),
		MeetingTasks: make(map[string][]domain.Task),
	}
	meetingIdx := len(g.criteria.All)

	for j, t := range candidates {
		if err := firstError(failed, j); err != nil {
			g.diag.Add(stageGrouper, t.ID, err)
			continue
		}
		accountID := contactAccount[t.WhoID]
		for i, m := range matchers {
			if !hits[i][j] {
				continue
			}
			if i == meetingIdx {
				out.MeetingTasks[accountID] = append(out.MeetingTasks[accountID], t)
				continue
			}
			byContact, ok := out.Buckets[accountID]
			if !ok {
				byContact = make(map[string]map[string][]domain.Task)
				out.Buckets[accountID] = byContact
			}
			byCriterion, ok := byContact[t.WhoID]
			if !ok {
				byCriterion = make(map[string][]domain.Task)
				byContact[t.WhoID] = byCriterion
			}
			byCriterion[m.Name()] = append(byCriterion[m.Name()], t)
		}
	}
	return out
}

func firstError(failed [][]error, j int) error {
	for _, row := range failed {
		if row[j] != nil {
			return row[j]
		}
	}
	return nil
}

// AccountSignals is everything the builder needs about one account.
type AccountSignals struct {
	Account domain.Account
	// Outbound and Inbound are unique tasks in ascending order.
	Outbound []domain.Task
	Inbound  []domain.Task
	// Matches maps criterion name to the IDs of tasks it matched.
	Matches       map[string]domain.IDSet
	Meetings      []domain.Meeting
	Opportunities []domain.Opportunity
}

// Signals flattens the buckets of one account into directional task streams.
// A task matching both an outbound and an inbound criterion is in both streams.
func (g *Grouper) Signals(grouped Grouped, account domain.Account) AccountSignals {
	sig := AccountSignals{Account: account, Matches: make(map[string]domain.IDSet)}
	seen := map[domain.Direction]map[string]bool{
		domain.DirectionOutbound: {},
		domain.DirectionInbound:  {},
	}

	for _, byCriterion := range grouped.Buckets[account.ID] {
		for name, tasks := range byCriterion {
			dir, _ := g.criteria.Direction(name)
			ids := sig.Matches[name]
			for _, t := range tasks {
				ids.Add(t.ID)
				if seen[dir] == nil || seen[dir][t.ID] {
					continue
				}
				seen[dir][t.ID] = true
				if dir == domain.DirectionInbound {
					sig.Inbound = append(sig.Inbound, t)
				} else {
					sig.Outbound = append(sig.Outbound, t)
				}
			}
			sig.Matches[name] = ids
		}
	}
	SortTasks(sig.Outbound)
	SortTasks(sig.Inbound)

	for _, t := range grouped.MeetingTasks[account.ID] {
		sig.Meetings = append(sig.Meetings, domain.MeetingFromTask(t))
	}
	return sig
}
