package engine

import (
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/timeutil"

	"github.com/google/uuid"
)

// Builder detects new activations in an account's task stream.
type Builder struct {
	settings domain.Settings
	criteria *Criteria
	clock    timeutil.Clock
	newID    func() uuid.UUID
}

// NewBuilder creates a builder for one settings snapshot.
func NewBuilder(settings domain.Settings, criteria *Criteria, clock timeutil.Clock) *Builder {
	return &Builder{settings: settings, criteria: criteria, clock: clock, newID: uuid.New}
}

// Build scans the account's outbound tasks in tracking windows of
// TrackingPeriod days and emits an activation for every active window.
//
// A window starts at its first task. After a window with tasks, active or
// not, the next window starts InactivityThreshold days after it ends. A
// window start that finds no tasks moves to the next task without penalty.
func (b *Builder) Build(sig AccountSignals) []*domain.Activation {
	tasks := sig.Outbound
	if len(tasks) == 0 {
		return nil
	}

	var out []*domain.Activation
	start := tasks[0].CreatedDate
	i := 0
	for {
		for i < len(tasks) && tasks[i].CreatedDate.Before(start) {
			i++
		}
		if i >= len(tasks) {
			break
		}
		end := timeutil.AddDays(start, b.settings.TrackingPeriod)
		j := i
		for j < len(tasks) && timeutil.InWindow(tasks[j].CreatedDate, start, b.settings.TrackingPeriod) {
			j++
		}
		if j == i {
			start = tasks[i].CreatedDate
			continue
		}
		if a := b.evaluateWindow(sig, tasks[i:j], start, end); a != nil {
			out = append(out, a)
		}
		start = timeutil.AddDays(end, b.settings.InactivityThreshold)
	}
	return out
}

func (b *Builder) evaluateWindow(sig AccountSignals, window []domain.Task, start, end time.Time) *domain.Activation {
	perContact := make(map[string]int)
	qualified := 0
	var thresholdTask *domain.Task
	for idx := range window {
		t := &window[idx]
		perContact[t.WhoID]++
		if perContact[t.WhoID] == b.settings.ActivitiesPerContact {
			qualified++
		}
		if thresholdTask == nil && qualified >= b.settings.ContactsPerAccount {
			thresholdTask = t
		}
	}

	var meetings []domain.Meeting
	for _, m := range sig.Meetings {
		if timeutil.InRange(m.TriggerAt, start, end) {
			meetings = append(meetings, m)
		}
	}
	SortMeetings(meetings)
	var opp *domain.Opportunity
	for idx := range sig.Opportunities {
		o := &sig.Opportunities[idx]
		if timeutil.InRange(o.CreatedDate, start, end) && (opp == nil || o.CreatedDate.Before(opp.CreatedDate)) {
			opp = o
		}
	}

	meetingGate := b.settings.ActivateByMeeting && len(meetings) > 0
	oppGate := b.settings.ActivateByOpportunity && opp != nil
	if thresholdTask == nil && !meetingGate && !oppGate {
		return nil
	}

	var activatedAt time.Time
	if thresholdTask != nil {
		activatedAt = thresholdTask.CreatedDate
	} else {
		if meetingGate {
			activatedAt = meetings[0].TriggerAt
		}
		if oppGate && (activatedAt.IsZero() || opp.CreatedDate.Before(activatedAt)) {
			activatedAt = opp.CreatedDate
		}
	}

	now := b.clock.Now().UTC()
	a := &domain.Activation{
		ID:                       b.newID(),
		AccountID:                sig.Account.ID,
		AccountName:              sig.Account.Name,
		AccountOwnerID:           sig.Account.OwnerID,
		ActivatedBy:              b.activatedBy(window),
		Status:                   domain.StatusActivated,
		ActivatedDate:            timeutil.DateOf(activatedAt),
		FirstProspectingActivity: timeutil.DateOf(window[0].CreatedDate),
		LastProspectingActivity:  timeutil.DateOf(window[len(window)-1].CreatedDate),
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	for _, t := range window {
		a.TaskIDs.Add(t.ID)
		if thresholdTask == nil || perContact[t.WhoID] >= b.settings.ActivitiesPerContact {
			a.ActiveContactIDs.Add(t.WhoID)
		}
	}
	for _, t := range sig.Inbound {
		if timeutil.InRange(t.CreatedDate, start, end) {
			d := timeutil.DateOf(t.CreatedDate)
			a.EngagedDate = &d
			break
		}
	}
	for _, m := range meetings {
		a.EventIDs.Add(m.ID)
	}

	var eventAt, oppAt *time.Time
	switch {
	case opp != nil:
		a.Status = domain.StatusOpportunityCreated
		a.Opportunity = opp.Snapshot()
		oppAt = &opp.CreatedDate
		if len(meetings) > 0 {
			eventAt = &meetings[0].TriggerAt
		}
	case len(meetings) > 0:
		a.Status = domain.StatusMeetingSet
		eventAt = &meetings[0].TriggerAt
	case a.EngagedDate != nil:
		a.Status = domain.StatusEngaged
	}

	Segment(SegmentInput{
		Activation:    a,
		Tasks:         window,
		EventAt:       eventAt,
		OpportunityAt: oppAt,
		Matches:       sig.Matches,
		Order:         b.criteria.Names(),
	})

	today := timeutil.Today(b.clock)
	lapse := timeutil.AddDays(a.LastProspectingActivity, b.settings.InactivityThreshold)
	if lapse.Before(today) {
		a.EnterStatus(domain.StatusUnresponsive, lapse)
		a.SortEfforts()
	}
	a.RefreshDays(today)
	return a
}

// activatedBy credits the most recent task owned by a team member, falling
// back to the most recent owner when no team member worked the window.
func (b *Builder) activatedBy(window []domain.Task) string {
	for i := len(window) - 1; i >= 0; i-- {
		if b.settings.IsTeamMember(window[i].OwnerID) {
			return window[i].OwnerID
		}
	}
	return window[len(window)-1].OwnerID
}
