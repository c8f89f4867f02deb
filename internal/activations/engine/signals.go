package engine

import (
	"cmp"
	"slices"

	"activation_backend/internal/activations/domain"
	"activation_backend/platform/apperr"
)

const (
	stageMeetings      = "meetings"
	stageOpportunities = "opportunities"
)

// QualifyingMeetings filters events by the meetings criteria and keys them by account.
// Without meetings criteria every event qualifies.
func QualifyingMeetings(events map[string][]domain.Event, contactAccount map[string]string, criteria *Criteria, diag *Diagnostics) map[string][]domain.Meeting {
	out := make(map[string][]domain.Meeting)
	for contactID, list := range events {
		for _, e := range list {
			accountID := e.AccountID
			if accountID == "" {
				accountID = contactAccount[contactID]
			}
			if accountID == "" {
				continue
			}
			if e.CreatedDate.IsZero() {
				diag.Add(stageMeetings, e.ID, apperr.Schema("event has no CreatedDate"))
				continue
			}
			if criteria.Meetings != nil {
				ok, err := criteria.Meetings.Matches(e)
				if err != nil {
					diag.Add(stageMeetings, e.ID, err)
					continue
				}
				if !ok {
					continue
				}
			}
			m := domain.MeetingFromEvent(e)
			if m.ContactID == "" {
				m.ContactID = contactID
			}
			out[accountID] = append(out[accountID], m)
		}
	}
	for id := range out {
		SortMeetings(out[id])
	}
	return out
}

// QualifyingOpportunities filters opportunities by the opportunity criteria and keys them by account.
// Without opportunity criteria every opportunity qualifies.
func QualifyingOpportunities(opps []domain.Opportunity, criteria *Criteria, diag *Diagnostics) map[string][]domain.Opportunity {
	out := make(map[string][]domain.Opportunity)
	for _, o := range opps {
		if o.AccountID == "" || o.CreatedDate.IsZero() {
			diag.Add(stageOpportunities, o.ID, apperr.Schema("opportunity is missing AccountId or CreatedDate"))
			continue
		}
		if criteria.Opportunities != nil {
			ok, err := criteria.Opportunities.Matches(o)
			if err != nil {
				diag.Add(stageOpportunities, o.ID, err)
				continue
			}
			if !ok {
				continue
			}
		}
		out[o.AccountID] = append(out[o.AccountID], o)
	}
	for id := range out {
		slices.SortStableFunc(out[id], func(a, b domain.Opportunity) int {
			if c := a.CreatedDate.Compare(b.CreatedDate); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
	}
	return out
}

// SortMeetings orders meetings by trigger time then ID.
func SortMeetings(meetings []domain.Meeting) {
	slices.SortStableFunc(meetings, func(a, b domain.Meeting) int {
		if c := a.TriggerAt.Compare(b.TriggerAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
