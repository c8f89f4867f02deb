package domain

import (
	"strings"
	"time"
)

// Account is a CRM account.
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// Contact is a CRM contact. Only the account projection is used by the engine.
type Contact struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
}

// User is a CRM user who may own tasks.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// FieldDescription describes one field of a CRM object.
type FieldDescription struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Label          string   `json:"label"`
	PicklistValues []string `json:"picklist_values,omitempty"`
}

// Task is an outreach or reply activity logged against a contact.
// Fields holds every raw CRM field so filters can address any of them.
type Task struct {
	ID          string
	WhoID       string
	WhatID      string
	OwnerID     string
	Subject     string
	Status      string
	CreatedDate time.Time
	Fields      map[string]any
}

// Field implements filter.Record.
func (t Task) Field(name string) (any, bool) {
	switch {
	case strings.EqualFold(name, "Id"):
		return t.ID, true
	case strings.EqualFold(name, "WhoId"):
		return nullable(t.WhoID), true
	case strings.EqualFold(name, "WhatId"):
		return nullable(t.WhatID), true
	case strings.EqualFold(name, "OwnerId"):
		return t.OwnerID, true
	case strings.EqualFold(name, "CreatedDate"):
		return t.CreatedDate, true
	}
	if v, ok := lookupField(t.Fields, name); ok {
		return v, true
	}
	switch {
	case strings.EqualFold(name, "Subject"):
		return nullable(t.Subject), true
	case strings.EqualFold(name, "Status"):
		return nullable(t.Status), true
	}
	return nil, false
}

// Event is a calendar event.
type Event struct {
	ID            string
	WhoID         string
	WhatID        string
	AccountID     string
	OwnerID       string
	Subject       string
	StartDateTime *time.Time
	EndDateTime   *time.Time
	CreatedDate   time.Time
	Fields        map[string]any
}

// Field implements filter.Record.
func (e Event) Field(name string) (any, bool) {
	switch {
	case strings.EqualFold(name, "Id"):
		return e.ID, true
	case strings.EqualFold(name, "WhoId"):
		return nullable(e.WhoID), true
	case strings.EqualFold(name, "AccountId"):
		return nullable(e.AccountID), true
	case strings.EqualFold(name, "OwnerId"):
		return e.OwnerID, true
	case strings.EqualFold(name, "CreatedDate"):
		return e.CreatedDate, true
	case strings.EqualFold(name, "StartDateTime"):
		if e.StartDateTime == nil {
			return nil, true
		}
		return *e.StartDateTime, true
	}
	if v, ok := lookupField(e.Fields, name); ok {
		return v, true
	}
	if strings.EqualFold(name, "Subject") {
		return nullable(e.Subject), true
	}
	return nil, false
}

// Opportunity is a CRM sales opportunity.
type Opportunity struct {
	ID          string
	AccountID   string
	OwnerID     string
	Name        string
	Amount      float64
	StageName   string
	CloseDate   *time.Time
	CreatedDate time.Time
	Fields      map[string]any
}

// Field implements filter.Record.
func (o Opportunity) Field(name string) (any, bool) {
	switch {
	case strings.EqualFold(name, "Id"):
		return o.ID, true
	case strings.EqualFold(name, "AccountId"):
		return o.AccountID, true
	case strings.EqualFold(name, "OwnerId"):
		return o.OwnerID, true
	case strings.EqualFold(name, "Amount"):
		return o.Amount, true
	case strings.EqualFold(name, "CreatedDate"):
		return o.CreatedDate, true
	}
	if v, ok := lookupField(o.Fields, name); ok {
		return v, true
	}
	switch {
	case strings.EqualFold(name, "Name"):
		return nullable(o.Name), true
	case strings.EqualFold(name, "StageName"):
		return nullable(o.StageName), true
	}
	return nil, false
}

// Snapshot returns the subset of the opportunity stored on an activation.
func (o Opportunity) Snapshot() *OpportunitySnapshot {
	return &OpportunitySnapshot{
		ID:          o.ID,
		Name:        o.Name,
		Amount:      o.Amount,
		StageName:   o.StageName,
		CloseDate:   o.CloseDate,
		CreatedDate: o.CreatedDate,
		OwnerID:     o.OwnerID,
	}
}

// OpportunitySnapshot is the opportunity as recorded on an activation.
type OpportunitySnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Amount      float64    `json:"amount"`
	StageName   string     `json:"stage_name"`
	CloseDate   *time.Time `json:"close_date,omitempty"`
	CreatedDate time.Time  `json:"created_date"`
	OwnerID     string     `json:"owner_id"`
}

// Meeting is a qualifying meeting regardless of the object that recorded it.
type Meeting struct {
	ID        string
	ContactID string
	TriggerAt time.Time
	// CreatedDate is when the CRM recorded the meeting.
	CreatedDate time.Time
	Source      MeetingObject
}

// MeetingFromEvent uses the event start as the trigger, falling back to its creation.
func MeetingFromEvent(e Event) Meeting {
	trigger := e.CreatedDate
	if e.StartDateTime != nil && !e.StartDateTime.IsZero() {
		trigger = *e.StartDateTime
	}
	return Meeting{ID: e.ID, ContactID: e.WhoID, TriggerAt: trigger, CreatedDate: e.CreatedDate, Source: MeetingObjectEvent}
}

// MeetingFromTask treats a meeting task's creation as the meeting moment.
func MeetingFromTask(t Task) Meeting {
	return Meeting{ID: t.ID, ContactID: t.WhoID, TriggerAt: t.CreatedDate, CreatedDate: t.CreatedDate, Source: MeetingObjectTask}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func lookupField(fields map[string]any, name string) (any, bool) {
	if fields == nil {
		return nil, false
	}
	if v, ok := fields[name]; ok {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}
