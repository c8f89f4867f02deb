package engine

import (
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/timeutil"
)

// SegmentInput describes a freshly built activation and its ordered tasks.
type SegmentInput struct {
	// Activation carries the final status, ActivatedDate and EngagedDate.
	Activation *domain.Activation
	Tasks      []domain.Task
	// EventAt and OpportunityAt are the qualifying meeting trigger and opportunity creation.
	EventAt       *time.Time
	OpportunityAt *time.Time
	// Matches maps criterion name to matched task IDs; Order lists criterion names.
	Matches map[string]domain.IDSet
	Order   []string
}

// Segment partitions the activation's tasks by the status the account held
// when each task was created and fills in efforts and metadata.
func Segment(in SegmentInput) {
	a := in.Activation
	final := a.Status
	oppAt, eventAt := in.OpportunityAt, in.EventAt
	if final != domain.StatusOpportunityCreated {
		oppAt = nil
	}
	if final.Rank() < domain.StatusMeetingSet.Rank() {
		eventAt = nil
	}

	a.ProspectingEffort = nil
	cur := a.EnterStatus(domain.StatusActivated, a.ActivatedDate)

	for _, t := range in.Tasks {
		switch {
		case oppAt != nil && a.Status != domain.StatusOpportunityCreated && !t.CreatedDate.Before(*oppAt):
			cur = a.EnterStatus(domain.StatusOpportunityCreated, timeutil.DateOf(*oppAt))
		case eventAt != nil && a.Status.Rank() < domain.StatusMeetingSet.Rank() && !t.CreatedDate.Before(*eventAt):
			cur = a.EnterStatus(domain.StatusMeetingSet, timeutil.DateOf(*eventAt))
		case a.EngagedDate != nil && a.Status == domain.StatusActivated && !timeutil.DateOf(t.CreatedDate).Before(*a.EngagedDate):
			cur = a.EnterStatus(domain.StatusEngaged, *a.EngagedDate)
		}
		cur.TaskIDs.Add(t.ID)
	}

	if a.EffortFor(final) == nil {
		a.EnterStatus(final, entryDate(final, a, eventAt, oppAt))
	}
	if a.EngagedDate != nil && a.EffortFor(domain.StatusEngaged) == nil {
		a.EnterStatus(domain.StatusEngaged, *a.EngagedDate)
	}
	a.Status = final
	a.SortEfforts()

	dates := taskDates(in.Tasks)
	for i := range a.ProspectingEffort {
		e := &a.ProspectingEffort[i]
		e.ProspectingMetadata = metadataFor(e.TaskIDs, dates, in.Matches, in.Order)
	}
	a.ProspectingMetadata = metadataFor(a.TaskIDs, dates, in.Matches, in.Order)
}

func entryDate(status domain.Status, a *domain.Activation, eventAt, oppAt *time.Time) time.Time {
	switch {
	case status == domain.StatusOpportunityCreated && oppAt != nil:
		return timeutil.DateOf(*oppAt)
	case status == domain.StatusMeetingSet && eventAt != nil:
		return timeutil.DateOf(*eventAt)
	case status == domain.StatusEngaged && a.EngagedDate != nil:
		return *a.EngagedDate
	}
	return a.ActivatedDate
}

func taskDates(tasks []domain.Task) map[string]time.Time {
	dates := make(map[string]time.Time, len(tasks))
	for _, t := range tasks {
		dates[t.ID] = timeutil.DateOf(t.CreatedDate)
	}
	return dates
}

// metadataFor rolls up ids per criterion, in criterion order.
func metadataFor(ids domain.IDSet, dates map[string]time.Time, matches map[string]domain.IDSet, order []string) []domain.ProspectingMetadata {
	var out []domain.ProspectingMetadata
	for _, name := range order {
		hit := ids.Intersect(matches[name])
		if hit.Len() == 0 {
			continue
		}
		m := domain.ProspectingMetadata{Name: name, Total: hit.Len(), TaskIDs: hit}
		for i, id := range hit {
			d := dates[id]
			if i == 0 || d.Before(m.FirstOccurrence) {
				m.FirstOccurrence = d
			}
			if i == 0 || d.After(m.LastOccurrence) {
				m.LastOccurrence = d
			}
		}
		out = append(out, m)
	}
	return out
}
