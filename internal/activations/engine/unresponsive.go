package engine

import (
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/timeutil"
	"activation_backend/platform/apperr"
)

const stageUnresponsive = "unresponsive"

// UnresponsiveDetector demotes activations that went quiet for longer than
// the inactivity threshold.
type UnresponsiveDetector struct {
	settings domain.Settings
	clock    timeutil.Clock
	diag     *Diagnostics
}

// NewUnresponsiveDetector creates a detector for one settings snapshot.
func NewUnresponsiveDetector(settings domain.Settings, clock timeutil.Clock, diag *Diagnostics) *UnresponsiveDetector {
	return &UnresponsiveDetector{settings: settings, clock: clock, diag: diag}
}

// Candidates returns activations whose last prospecting activity plus the
// inactivity threshold lies before today, and the earliest first prospecting
// date among them. The caller fetches tasks from that date on.
func (d *UnresponsiveDetector) Candidates(active []*domain.Activation) ([]*domain.Activation, time.Time) {
	today := timeutil.Today(d.clock)
	var out []*domain.Activation
	var since time.Time
	for _, a := range active {
		if !a.Status.IsActive() {
			continue
		}
		if !d.lapse(a).Before(today) {
			continue
		}
		out = append(out, a)
		if since.IsZero() || a.FirstProspectingActivity.Before(since) {
			since = a.FirstProspectingActivity
		}
	}
	return out, since
}

// Demote marks as Unresponsive every candidate whose account has no task in
// the days after its last prospecting activity up to and including the
// lapse date. Tasks are matched to accounts through contactAccount.
func (d *UnresponsiveDetector) Demote(candidates []*domain.Activation, tasks []domain.Task, contactAccount map[string]string) []*domain.Activation {
	byAccount := make(map[string][]time.Time)
	for _, t := range tasks {
		if t.CreatedDate.IsZero() {
			d.diag.Add(stageUnresponsive, t.ID, apperr.Schema("task has no CreatedDate"))
			continue
		}
		if t.WhoID == "" {
			d.diag.Add(stageUnresponsive, t.ID, apperr.Schema("task has no WhoId"))
			continue
		}
		accountID, ok := contactAccount[t.WhoID]
		if !ok {
			continue
		}
		byAccount[accountID] = append(byAccount[accountID], t.CreatedDate.UTC())
	}

	now := d.clock.Now().UTC()
	today := timeutil.DateOf(now)
	var demoted []*domain.Activation
	for _, a := range candidates {
		from := timeutil.AddDays(a.LastProspectingActivity, 1)
		to := timeutil.AddDays(a.LastProspectingActivity, d.settings.InactivityThreshold+1)
		if hasActivity(byAccount[a.AccountID], from, to) {
			continue
		}
		a.EnterStatus(domain.StatusUnresponsive, d.lapse(a))
		a.SortEfforts()
		a.RefreshDays(today)
		a.UpdatedAt = now
		demoted = append(demoted, a)
	}
	return demoted
}

func (d *UnresponsiveDetector) lapse(a *domain.Activation) time.Time {
	return timeutil.AddDays(a.LastProspectingActivity, d.settings.InactivityThreshold)
}

func hasActivity(times []time.Time, from, to time.Time) bool {
	for _, t := range times {
		if timeutil.InRange(t, from, to) {
			return true
		}
	}
	return false
}
