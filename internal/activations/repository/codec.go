package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/platform/apperr"

	"github.com/google/uuid"
)

const activationColumns = `id, account_id, account_name, account_owner_id, activated_by, status,
	activated_date, engaged_date, first_prospecting_activity, last_prospecting_activity,
	days_activated, days_engaged, active_contact_ids, task_ids, event_ids, opportunity,
	prospecting_metadata, prospecting_effort, created_at, updated_at`

// activationRow mirrors one row of the activations table.
type activationRow struct {
	ID                       uuid.UUID
	AccountID                string
	AccountName              string
	AccountOwnerID           string
	ActivatedBy              string
	Status                   string
	ActivatedDate            time.Time
	EngagedDate              *time.Time
	FirstProspectingActivity time.Time
	LastProspectingActivity  time.Time
	DaysActivated            int
	DaysEngaged              *int
	ActiveContactIDs         []byte
	TaskIDs                  []byte
	EventIDs                 []byte
	Opportunity              []byte
	ProspectingMetadata      []byte
	ProspectingEffort        []byte
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// targets returns scan destinations in activationColumns order.
func (r *activationRow) targets() []any {
	return []any{
		&r.ID, &r.AccountID, &r.AccountName, &r.AccountOwnerID, &r.ActivatedBy, &r.Status,
		&r.ActivatedDate, &r.EngagedDate, &r.FirstProspectingActivity, &r.LastProspectingActivity,
		&r.DaysActivated, &r.DaysEngaged, &r.ActiveContactIDs, &r.TaskIDs, &r.EventIDs, &r.Opportunity,
		&r.ProspectingMetadata, &r.ProspectingEffort, &r.CreatedAt, &r.UpdatedAt,
	}
}

// args returns statement arguments in activationColumns order.
func (r *activationRow) args() []any {
	var opportunity any
	if r.Opportunity != nil {
		opportunity = r.Opportunity
	}
	return []any{
		r.ID, r.AccountID, r.AccountName, r.AccountOwnerID, r.ActivatedBy, r.Status,
		r.ActivatedDate, r.EngagedDate, r.FirstProspectingActivity, r.LastProspectingActivity,
		r.DaysActivated, r.DaysEngaged, r.ActiveContactIDs, r.TaskIDs, r.EventIDs, opportunity,
		r.ProspectingMetadata, r.ProspectingEffort, r.CreatedAt, r.UpdatedAt,
	}
}

func encodeActivation(a *domain.Activation) (activationRow, error) {
	row := activationRow{
		ID:                       a.ID,
		AccountID:                a.AccountID,
		AccountName:              a.AccountName,
		AccountOwnerID:           a.AccountOwnerID,
		ActivatedBy:              a.ActivatedBy,
		Status:                   string(a.Status),
		ActivatedDate:            a.ActivatedDate,
		EngagedDate:              a.EngagedDate,
		FirstProspectingActivity: a.FirstProspectingActivity,
		LastProspectingActivity:  a.LastProspectingActivity,
		DaysActivated:            a.DaysActivated,
		DaysEngaged:              a.DaysEngaged,
		CreatedAt:                a.CreatedAt,
		UpdatedAt:                a.UpdatedAt,
	}

	var err error
	if row.ActiveContactIDs, err = marshalList(a.ActiveContactIDs); err != nil {
		return row, fmt.Errorf("encode active_contact_ids: %w", err)
	}
	if row.TaskIDs, err = marshalList(a.TaskIDs); err != nil {
		return row, fmt.Errorf("encode task_ids: %w", err)
	}
	if row.EventIDs, err = marshalList(a.EventIDs); err != nil {
		return row, fmt.Errorf("encode event_ids: %w", err)
	}
	if a.Opportunity != nil {
		if row.Opportunity, err = json.Marshal(a.Opportunity); err != nil {
			return row, fmt.Errorf("encode opportunity: %w", err)
		}
	}
	if row.ProspectingMetadata, err = marshalList(a.ProspectingMetadata); err != nil {
		return row, fmt.Errorf("encode prospecting_metadata: %w", err)
	}
	if row.ProspectingEffort, err = marshalList(a.ProspectingEffort); err != nil {
		return row, fmt.Errorf("encode prospecting_effort: %w", err)
	}
	return row, nil
}

func decodeActivation(row activationRow) (*domain.Activation, error) {
	status, err := domain.ParseStatus(row.Status)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, fmt.Sprintf("activation %s has invalid status", row.ID), err)
	}
	a := &domain.Activation{
		ID:                       row.ID,
		AccountID:                row.AccountID,
		AccountName:              row.AccountName,
		AccountOwnerID:           row.AccountOwnerID,
		ActivatedBy:              row.ActivatedBy,
		Status:                   status,
		ActivatedDate:            utcDate(row.ActivatedDate),
		FirstProspectingActivity: utcDate(row.FirstProspectingActivity),
		LastProspectingActivity:  utcDate(row.LastProspectingActivity),
		DaysActivated:            row.DaysActivated,
		DaysEngaged:              row.DaysEngaged,
		CreatedAt:                row.CreatedAt.UTC(),
		UpdatedAt:                row.UpdatedAt.UTC(),
	}
	if row.EngagedDate != nil {
		d := utcDate(*row.EngagedDate)
		a.EngagedDate = &d
	}

	if err := unmarshalColumn("active_contact_ids", row.ActiveContactIDs, &a.ActiveContactIDs); err != nil {
		return nil, err
	}
	if err := unmarshalColumn("task_ids", row.TaskIDs, &a.TaskIDs); err != nil {
		return nil, err
	}
	if err := unmarshalColumn("event_ids", row.EventIDs, &a.EventIDs); err != nil {
		return nil, err
	}
	if len(row.Opportunity) > 0 {
		a.Opportunity = &domain.OpportunitySnapshot{}
		if err := unmarshalColumn("opportunity", row.Opportunity, a.Opportunity); err != nil {
			return nil, err
		}
	}
	if err := unmarshalColumn("prospecting_metadata", row.ProspectingMetadata, &a.ProspectingMetadata); err != nil {
		return nil, err
	}
	if err := unmarshalColumn("prospecting_effort", row.ProspectingEffort, &a.ProspectingEffort); err != nil {
		return nil, err
	}
	return a, nil
}

// marshalList encodes nil slices as an empty JSON array.
func marshalList[T any](list []T) ([]byte, error) {
	if list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(list)
}

func unmarshalColumn(column string, raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Wrap(apperr.KindSchema, "decode "+column, err)
	}
	return nil
}

// utcDate drops any location pgx attached to a DATE value.
func utcDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
