package domain

import (
	"fmt"
	"slices"
	"time"

	"activation_backend/internal/activations/timeutil"
	"activation_backend/platform/apperr"

	"github.com/google/uuid"
)

// ProspectingMetadata rolls up the tasks of one criterion within an activation or effort.
type ProspectingMetadata struct {
	Name            string    `json:"name"`
	FirstOccurrence time.Time `json:"first_occurrence"`
	LastOccurrence  time.Time `json:"last_occurrence"`
	Total           int       `json:"total"`
	TaskIDs         IDSet     `json:"task_ids"`
}

// ProspectingEffort is the segment of an activation spent in one status.
type ProspectingEffort struct {
	ActivationID        uuid.UUID             `json:"activation_id"`
	Status              Status                `json:"status"`
	DateEntered         time.Time             `json:"date_entered"`
	TaskIDs             IDSet                 `json:"task_ids"`
	ProspectingMetadata []ProspectingMetadata `json:"prospecting_metadata"`
}

// Activation records that an account crossed the engagement threshold and
// tracks how its engagement progressed since.
type Activation struct {
	ID                       uuid.UUID             `json:"id"`
	AccountID                string                `json:"account_id"`
	AccountName              string                `json:"account_name"`
	AccountOwnerID           string                `json:"account_owner_id"`
	ActivatedBy              string                `json:"activated_by"`
	Status                   Status                `json:"status"`
	ActivatedDate            time.Time             `json:"activated_date"`
	EngagedDate              *time.Time            `json:"engaged_date,omitempty"`
	FirstProspectingActivity time.Time             `json:"first_prospecting_activity"`
	LastProspectingActivity  time.Time             `json:"last_prospecting_activity"`
	DaysActivated            int                   `json:"days_activated"`
	DaysEngaged              *int                  `json:"days_engaged,omitempty"`
	ActiveContactIDs         IDSet                 `json:"active_contact_ids"`
	TaskIDs                  IDSet                 `json:"task_ids"`
	EventIDs                 IDSet                 `json:"event_ids"`
	Opportunity              *OpportunitySnapshot  `json:"opportunity,omitempty"`
	ProspectingMetadata      []ProspectingMetadata `json:"prospecting_metadata"`
	ProspectingEffort        []ProspectingEffort   `json:"prospecting_effort"`
	CreatedAt                time.Time             `json:"created_at"`
	UpdatedAt                time.Time             `json:"updated_at"`
}

// CurrentEffort returns the latest segment, or nil when there is none.
func (a *Activation) CurrentEffort() *ProspectingEffort {
	if len(a.ProspectingEffort) == 0 {
		return nil
	}
	return &a.ProspectingEffort[len(a.ProspectingEffort)-1]
}

// EffortFor returns the segment for status, or nil.
func (a *Activation) EffortFor(status Status) *ProspectingEffort {
	for i := range a.ProspectingEffort {
		if a.ProspectingEffort[i].Status == status {
			return &a.ProspectingEffort[i]
		}
	}
	return nil
}

// EnterStatus moves the activation into status and opens its segment at dateEntered.
// A status that already has a segment reuses it, keeping one segment per status.
func (a *Activation) EnterStatus(status Status, dateEntered time.Time) *ProspectingEffort {
	a.Status = status
	if e := a.EffortFor(status); e != nil {
		return e
	}
	if dateEntered.Before(a.ActivatedDate) {
		dateEntered = a.ActivatedDate
	}
	a.ProspectingEffort = append(a.ProspectingEffort, ProspectingEffort{
		ActivationID: a.ID,
		Status:       status,
		DateEntered:  dateEntered,
	})
	return a.CurrentEffort()
}

// SortEfforts orders segments by date entered, ties broken by status rank.
func (a *Activation) SortEfforts() {
	slices.SortStableFunc(a.ProspectingEffort, func(x, y ProspectingEffort) int {
		if c := x.DateEntered.Compare(y.DateEntered); c != 0 {
			return c
		}
		return x.Status.Rank() - y.Status.Rank()
	})
}

// RefreshDays recomputes the day counters relative to today.
func (a *Activation) RefreshDays(today time.Time) {
	a.DaysActivated = timeutil.DaysBetween(a.ActivatedDate, today)
	if a.EngagedDate != nil {
		d := timeutil.DaysBetween(*a.EngagedDate, today)
		a.DaysEngaged = &d
	} else {
		a.DaysEngaged = nil
	}
}

// Clone returns a deep copy.
func (a *Activation) Clone() *Activation {
	c := *a
	if a.EngagedDate != nil {
		d := *a.EngagedDate
		c.EngagedDate = &d
	}
	if a.DaysEngaged != nil {
		d := *a.DaysEngaged
		c.DaysEngaged = &d
	}
	if a.Opportunity != nil {
		o := *a.Opportunity
		c.Opportunity = &o
	}
	c.ActiveContactIDs = a.ActiveContactIDs.Clone()
	c.TaskIDs = a.TaskIDs.Clone()
	c.EventIDs = a.EventIDs.Clone()
	c.ProspectingMetadata = cloneMetadata(a.ProspectingMetadata)
	if a.ProspectingEffort != nil {
		c.ProspectingEffort = make([]ProspectingEffort, len(a.ProspectingEffort))
		for i, e := range a.ProspectingEffort {
			e.TaskIDs = e.TaskIDs.Clone()
			e.ProspectingMetadata = cloneMetadata(e.ProspectingMetadata)
			c.ProspectingEffort[i] = e
		}
	}
	return &c
}

// RecordMetadata adds a task to the named criterion rollup, creating it if needed.
func RecordMetadata(list []ProspectingMetadata, name, taskID string, at time.Time) []ProspectingMetadata {
	for i := range list {
		m := &list[i]
		if m.Name != name {
			continue
		}
		if m.TaskIDs.Contains(taskID) {
			return list
		}
		m.TaskIDs.Add(taskID)
		m.Total = m.TaskIDs.Len()
		if at.Before(m.FirstOccurrence) {
			m.FirstOccurrence = at
		}
		if at.After(m.LastOccurrence) {
			m.LastOccurrence = at
		}
		return list
	}
	return append(list, ProspectingMetadata{
		Name:            name,
		FirstOccurrence: at,
		LastOccurrence:  at,
		Total:           1,
		TaskIDs:         NewIDSet(taskID),
	})
}

// Validate checks the aggregate invariants. Violations are KindConstraint errors.
func (a *Activation) Validate() error {
	fail := func(format string, args ...any) error {
		return apperr.Constraint(fmt.Sprintf(format, args...)).
			WithOp("activation.Validate").
			WithDetails(map[string]string{"activation_id": a.ID.String(), "account_id": a.AccountID})
	}

	if a.ID == uuid.Nil {
		return fail("activation has no id")
	}
	if a.AccountID == "" {
		return fail("activation %s has no account", a.ID)
	}
	if !a.Status.Valid() {
		return fail("activation %s has unknown status %q", a.ID, a.Status)
	}
	if a.LastProspectingActivity.Before(a.FirstProspectingActivity) {
		return fail("last prospecting activity %s precedes first %s",
			a.LastProspectingActivity.Format(time.DateOnly), a.FirstProspectingActivity.Format(time.DateOnly))
	}
	if a.Status == StatusOpportunityCreated && a.Opportunity == nil {
		return fail("status %s requires an opportunity", a.Status)
	}
	if a.Status == StatusMeetingSet && a.EventIDs.Len() == 0 {
		return fail("status %s requires a meeting", a.Status)
	}

	var effortTasks IDSet
	seen := make(map[Status]bool, len(a.ProspectingEffort))
	for i, e := range a.ProspectingEffort {
		if seen[e.Status] {
			return fail("more than one %s segment", e.Status)
		}
		seen[e.Status] = true
		if e.DateEntered.Before(a.ActivatedDate) {
			return fail("%s segment entered before activation", e.Status)
		}
		if i > 0 && e.DateEntered.Before(a.ProspectingEffort[i-1].DateEntered) {
			return fail("segments are not ordered by date entered")
		}
		for _, id := range e.TaskIDs {
			if effortTasks.Contains(id) {
				return fail("task %s belongs to more than one segment", id)
			}
		}
		effortTasks.Add(e.TaskIDs...)
		if err := validateMetadata(e.ProspectingMetadata, e.TaskIDs); err != nil {
			return fail("%s segment: %v", e.Status, err)
		}
	}
	if !effortTasks.Equal(a.TaskIDs) {
		return fail("task ids differ from the union of segment task ids")
	}

	var metadataTasks IDSet
	for _, m := range a.ProspectingMetadata {
		metadataTasks.Add(m.TaskIDs...)
	}
	if !metadataTasks.Equal(a.TaskIDs) {
		return fail("task ids differ from the union of metadata task ids")
	}
	return validateMetadata(a.ProspectingMetadata, a.TaskIDs)
}

func validateMetadata(list []ProspectingMetadata, container IDSet) error {
	for _, m := range list {
		if m.LastOccurrence.Before(m.FirstOccurrence) {
			return apperr.Constraint(fmt.Sprintf("metadata %q last occurrence precedes first", m.Name))
		}
		if m.TaskIDs.Len() != m.Total {
			return apperr.Constraint(fmt.Sprintf("metadata %q total %d does not match %d task ids", m.Name, m.Total, m.TaskIDs.Len()))
		}
		for _, id := range m.TaskIDs {
			if !container.Contains(id) {
				return apperr.Constraint(fmt.Sprintf("metadata %q references task %s outside its container", m.Name, id))
			}
		}
	}
	return nil
}

func cloneMetadata(list []ProspectingMetadata) []ProspectingMetadata {
	if list == nil {
		return nil
	}
	out := make([]ProspectingMetadata, len(list))
	for i, m := range list {
		m.TaskIDs = m.TaskIDs.Clone()
		out[i] = m
	}
	return out
}
