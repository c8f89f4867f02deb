package domain

import (
	"slices"
	"time"
)

// Direction says whether a criterion matches outreach by the team or replies from the account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DataType selects how a filter compares its field.
type DataType string

const (
	DataTypeString DataType = "string"
	DataTypeNumber DataType = "number"
	DataTypeDate   DataType = "date"
)

// Operator is a filter comparison.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEqual       Operator = "not_equal"
	OpContains       Operator = "contains"
	OpDoesNotContain Operator = "does_not_contain"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
)

// MeetingObject selects the CRM object that represents a meeting.
type MeetingObject string

const (
	MeetingObjectEvent MeetingObject = "Event"
	MeetingObjectTask  MeetingObject = "Task"
)

// Filter is a single field predicate.
type Filter struct {
	Field    string   `json:"field" yaml:"field" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required"`
	Value    string   `json:"value" yaml:"value"`
	DataType DataType `json:"data_type" yaml:"data_type" validate:"required,oneof=string number date"`
}

// FilterContainer is a named, directional group of filters joined by FilterLogic.
// FilterLogic uses the stored "_k_" atom form, k being the 1-based filter index.
type FilterContainer struct {
	Name        string    `json:"name" yaml:"name" validate:"required"`
	Direction   Direction `json:"direction" yaml:"direction" validate:"required,oneof=inbound outbound"`
	Filters     []Filter  `json:"filters" yaml:"filters" validate:"dive"`
	FilterLogic string    `json:"filter_logic" yaml:"filter_logic"`
}

// Settings configures the engine for one team.
type Settings struct {
	InactivityThreshold   int               `json:"inactivity_threshold" yaml:"inactivity_threshold" validate:"min=1"`
	TrackingPeriod        int               `json:"tracking_period" yaml:"tracking_period" validate:"min=1"`
	ActivitiesPerContact  int               `json:"activities_per_contact" yaml:"activities_per_contact" validate:"min=1"`
	ContactsPerAccount    int               `json:"contacts_per_account" yaml:"contacts_per_account" validate:"min=1"`
	ActivateByMeeting     bool              `json:"activate_by_meeting" yaml:"activate_by_meeting"`
	ActivateByOpportunity bool              `json:"activate_by_opportunity" yaml:"activate_by_opportunity"`
	MeetingObject         MeetingObject     `json:"meeting_object" yaml:"meeting_object" validate:"omitempty,oneof=Event Task"`
	Criteria              []FilterContainer `json:"criteria" yaml:"criteria" validate:"dive"`
	MeetingsCriteria      *FilterContainer  `json:"meetings_criteria,omitempty" yaml:"meetings_criteria,omitempty"`
	OpportunityCriteria   *FilterContainer  `json:"opportunity_criteria,omitempty" yaml:"opportunity_criteria,omitempty"`
	LatestDateQueried     *time.Time        `json:"latest_date_queried,omitempty" yaml:"latest_date_queried,omitempty"`
	TeamMemberIDs         []string          `json:"team_member_ids" yaml:"team_member_ids"`
	UserTimezone          string            `json:"user_timezone,omitempty" yaml:"user_timezone,omitempty"`
	UpdatedAt             time.Time         `json:"updated_at" yaml:"-"`
}

// DefaultSettings returns the settings used before an operator saves any.
func DefaultSettings() Settings {
	return Settings{
		InactivityThreshold:   10,
		TrackingPeriod:        5,
		ActivitiesPerContact:  3,
		ContactsPerAccount:    2,
		ActivateByMeeting:     true,
		ActivateByOpportunity: true,
		MeetingObject:         MeetingObjectEvent,
		UserTimezone:          "UTC",
	}
}

// Meeting returns the configured meeting object, defaulting to Event.
func (s Settings) Meeting() MeetingObject {
	if s.MeetingObject == "" {
		return MeetingObjectEvent
	}
	return s.MeetingObject
}

// IsTeamMember reports whether ownerID belongs to the configured team.
func (s Settings) IsTeamMember(ownerID string) bool {
	return slices.Contains(s.TeamMemberIDs, ownerID)
}
