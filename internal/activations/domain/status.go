// Package domain contains the activation aggregate and the CRM records the
// engine reads. It has no dependencies on storage or transport.
package domain

import "fmt"

// Status is the lifecycle state of an activation.
type Status string

const (
	StatusActivated          Status = "Activated"
	StatusEngaged            Status = "Engaged"
	StatusMeetingSet         Status = "Meeting Set"
	StatusOpportunityCreated Status = "Opportunity Created"
	StatusUnresponsive       Status = "Unresponsive"
)

// Rank orders the progressing statuses. Opportunity Created dominates Meeting
// Set, which dominates Engaged, which dominates Activated. Unresponsive sits
// outside the progression and ranks lowest.
func (s Status) Rank() int {
	switch s {
	case StatusActivated:
		return 1
	case StatusEngaged:
		return 2
	case StatusMeetingSet:
		return 3
	case StatusOpportunityCreated:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() > 0 || s == StatusUnresponsive
}

// IsActive reports whether an activation in this status is still tracked by the incrementer.
func (s Status) IsActive() bool {
	return s != StatusUnresponsive
}

// ParseStatus converts a stored or query value into a Status.
func ParseStatus(value string) (Status, error) {
	s := Status(value)
	if !s.Valid() {
		return "", fmt.Errorf("unknown activation status %q", value)
	}
	return s, nil
}
