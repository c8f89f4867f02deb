package engine

import (
	"slices"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/timeutil"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// IncrementSignals are the CRM signals observed since the last run.
type IncrementSignals struct {
	Grouped       Grouped
	Meetings      map[string][]domain.Meeting
	Opportunities map[string][]domain.Opportunity
}

// Since keeps the signals the CRM recorded at or after t.
func (s IncrementSignals) Since(t time.Time) IncrementSignals {
	out := IncrementSignals{
		Grouped:       s.Grouped.Since(t),
		Meetings:      make(map[string][]domain.Meeting, len(s.Meetings)),
		Opportunities: make(map[string][]domain.Opportunity, len(s.Opportunities)),
	}
	for accountID, meetings := range s.Meetings {
		for _, m := range meetings {
			if !m.CreatedDate.Before(t) {
				out.Meetings[accountID] = append(out.Meetings[accountID], m)
			}
		}
	}
	for accountID, opps := range s.Opportunities {
		for _, o := range opps {
			if !o.CreatedDate.Before(t) {
				out.Opportunities[accountID] = append(out.Opportunities[accountID], o)
			}
		}
	}
	return out
}

// Incrementer merges new signals into existing activations.
type Incrementer struct {
	settings domain.Settings
	criteria *Criteria
	clock    timeutil.Clock
}

// NewIncrementer creates an incrementer for one settings snapshot.
func NewIncrementer(settings domain.Settings, criteria *Criteria, clock timeutil.Clock) *Incrementer {
	return &Incrementer{settings: settings, criteria: criteria, clock: clock}
}

type matchedTask struct {
	task     domain.Task
	criteria []string
	inbound  bool
	meeting  bool
}

// Increment mutates the given activations in place and returns those that changed.
func (inc *Incrementer) Increment(active []*domain.Activation, sig IncrementSignals) []*domain.Activation {
	var changed []*domain.Activation
	now := inc.clock.Now().UTC()
	today := timeutil.DateOf(now)

	for _, a := range active {
		before := a.Clone()
		inc.apply(a, sig, today)
		a.RefreshDays(today)
		if !sameActivation(before, a) {
			a.UpdatedAt = now
			changed = append(changed, a)
		}
	}
	return changed
}

func (inc *Incrementer) apply(a *domain.Activation, sig IncrementSignals, today time.Time) {
	tasks := inc.candidateTasks(a, sig.Grouped)
	opps := inc.candidateOpportunities(a, sig.Opportunities[a.AccountID])
	meetings := inc.candidateMeetings(a, sig.Meetings[a.AccountID], sig.Grouped.MeetingTasks[a.AccountID])

	for _, mt := range tasks {
		at := mt.task.CreatedDate
		date := timeutil.DateOf(at)

		next := a.Status
		opp := firstOpportunityBy(opps, at)
		held := meetingsBy(meetings, at)
		switch {
		case opp != nil && a.Status != domain.StatusOpportunityCreated:
			next = domain.StatusOpportunityCreated
			a.Opportunity = opp.Snapshot()
		case len(held) > 0 && (a.Status == domain.StatusActivated || a.Status == domain.StatusEngaged):
			next = domain.StatusMeetingSet
		case mt.inbound && a.Status == domain.StatusActivated:
			next = domain.StatusEngaged
		}
		for _, m := range held {
			a.EventIDs.Add(m.ID)
		}

		var cur *domain.ProspectingEffort
		if next != a.Status {
			cur = a.EnterStatus(next, date)
		} else if cur = a.EffortFor(a.Status); cur == nil {
			cur = a.EnterStatus(a.Status, date)
		}

		a.TaskIDs.Add(mt.task.ID)
		cur.TaskIDs.Add(mt.task.ID)
		a.ActiveContactIDs.Add(mt.task.WhoID)
		if date.After(a.LastProspectingActivity) {
			a.LastProspectingActivity = date
		}
		for _, name := range mt.criteria {
			a.ProspectingMetadata = domain.RecordMetadata(a.ProspectingMetadata, name, mt.task.ID, date)
			cur.ProspectingMetadata = domain.RecordMetadata(cur.ProspectingMetadata, name, mt.task.ID, date)
		}
		if a.EngagedDate == nil && (mt.inbound || mt.meeting) {
			d := date
			a.EngagedDate = &d
		}
	}

	if len(opps) > 0 && a.Status != domain.StatusOpportunityCreated {
		o := opps[0]
		a.Opportunity = o.Snapshot()
		a.EnterStatus(domain.StatusOpportunityCreated, timeutil.MinTime(timeutil.DateOf(o.CreatedDate), today))
	}
	if len(meetings) > 0 {
		for _, m := range meetings {
			a.EventIDs.Add(m.ID)
		}
		if a.Status == domain.StatusActivated || a.Status == domain.StatusEngaged {
			a.EnterStatus(domain.StatusMeetingSet, timeutil.MinTime(timeutil.DateOf(meetings[0].TriggerAt), today))
		}
	}
	a.SortEfforts()
}

// candidateTasks returns unattributed tasks of the account created on or
// after the activation's first prospecting date, in ascending order.
func (inc *Incrementer) candidateTasks(a *domain.Activation, grouped Grouped) []matchedTask {
	byID := make(map[string]*matchedTask)
	for _, byCriterion := range grouped.Buckets[a.AccountID] {
		for name, tasks := range byCriterion {
			dir, _ := inc.criteria.Direction(name)
			for _, t := range tasks {
				if a.TaskIDs.Contains(t.ID) || timeutil.DateOf(t.CreatedDate).Before(a.FirstProspectingActivity) {
					continue
				}
				mt, ok := byID[t.ID]
				if !ok {
					mt = &matchedTask{task: t}
					byID[t.ID] = mt
				}
				mt.criteria = append(mt.criteria, name)
				if dir == domain.DirectionInbound {
					mt.inbound = true
				}
			}
		}
	}
	for _, t := range grouped.MeetingTasks[a.AccountID] {
		if mt, ok := byID[t.ID]; ok {
			mt.meeting = true
		}
	}

	out := make([]matchedTask, 0, len(byID))
	for _, mt := range byID {
		mt.criteria = inc.inCriteriaOrder(mt.criteria)
		out = append(out, *mt)
	}
	slices.SortFunc(out, func(x, y matchedTask) int {
		if c := x.task.CreatedDate.Compare(y.task.CreatedDate); c != 0 {
			return c
		}
		if x.task.ID < y.task.ID {
			return -1
		}
		if x.task.ID > y.task.ID {
			return 1
		}
		return 0
	})
	return out
}

func (inc *Incrementer) inCriteriaOrder(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range inc.criteria.Names() {
		if slices.Contains(names, n) {
			out = append(out, n)
		}
	}
	return out
}

// candidateOpportunities returns opportunities not yet recorded on the
// activation, created on or after its first prospecting date.
func (inc *Incrementer) candidateOpportunities(a *domain.Activation, opps []domain.Opportunity) []domain.Opportunity {
	if a.Status == domain.StatusOpportunityCreated {
		return nil
	}
	var out []domain.Opportunity
	for _, o := range opps {
		if a.Opportunity != nil && a.Opportunity.ID == o.ID {
			continue
		}
		if timeutil.DateOf(o.CreatedDate).Before(a.FirstProspectingActivity) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// candidateMeetings returns meetings not yet recorded on the activation,
// triggered on or after its first prospecting date.
func (inc *Incrementer) candidateMeetings(a *domain.Activation, events []domain.Meeting, meetingTasks []domain.Task) []domain.Meeting {
	var out []domain.Meeting
	add := func(m domain.Meeting) {
		if a.EventIDs.Contains(m.ID) || timeutil.DateOf(m.TriggerAt).Before(a.FirstProspectingActivity) {
			return
		}
		out = append(out, m)
	}
	for _, m := range events {
		add(m)
	}
	for _, t := range meetingTasks {
		add(domain.MeetingFromTask(t))
	}
	SortMeetings(out)
	return out
}

func firstOpportunityBy(opps []domain.Opportunity, at time.Time) *domain.Opportunity {
	for i := range opps {
		if !opps[i].CreatedDate.After(at) {
			return &opps[i]
		}
	}
	return nil
}

func meetingsBy(meetings []domain.Meeting, at time.Time) []domain.Meeting {
	var out []domain.Meeting
	for _, m := range meetings {
		if !m.TriggerAt.After(at) {
			out = append(out, m)
		}
	}
	return out
}

func sameActivation(a, b *domain.Activation) bool {
	return cmp.Equal(a, b,
		cmpopts.EquateEmpty(),
		cmpopts.IgnoreFields(domain.Activation{}, "UpdatedAt"),
	)
}
