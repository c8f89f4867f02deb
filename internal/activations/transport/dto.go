package transport

import (
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/filter"

	"github.com/google/uuid"
)

type ListActivationsRequest struct {
	Status    string `form:"status" validate:"omitempty,oneof=Activated Engaged 'Meeting Set' 'Opportunity Created' Unresponsive"`
	AccountID string `form:"accountId" validate:"omitempty,max=18"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"pageSize" validate:"omitempty,min=1,max=500"`
}

type ListRunsRequest struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=500"`
}

type FilterDTO struct {
	Field    string `json:"field" validate:"required,max=80"`
	Operator string `json:"operator" validate:"required,oneof=equals not_equal contains does_not_contain greater_than less_than greater_or_equal less_or_equal"`
	Value    string `json:"value" validate:"max=255"`
	DataType string `json:"dataType" validate:"required,oneof=string number date"`
}

// FilterContainerDTO carries filter logic in display form, e.g. "(1 OR 2) AND 3".
type FilterContainerDTO struct {
	Name        string      `json:"name" validate:"required,max=120"`
	Direction   string      `json:"direction" validate:"required,oneof=inbound outbound"`
	Filters     []FilterDTO `json:"filters" validate:"required,min=1,dive"`
	FilterLogic string      `json:"filterLogic" validate:"max=500"`
}

type UpdateSettingsRequest struct {
	InactivityThreshold   int                  `json:"inactivityThreshold" validate:"min=1,max=365"`
	TrackingPeriod        int                  `json:"trackingPeriod" validate:"min=1,max=365"`
	ActivitiesPerContact  int                  `json:"activitiesPerContact" validate:"min=1"`
	ContactsPerAccount    int                  `json:"contactsPerAccount" validate:"min=1"`
	ActivateByMeeting     bool                 `json:"activateByMeeting"`
	ActivateByOpportunity bool                 `json:"activateByOpportunity"`
	MeetingObject         string               `json:"meetingObject" validate:"omitempty,oneof=Event Task"`
	Criteria              []FilterContainerDTO `json:"criteria" validate:"required,min=1,dive"`
	MeetingsCriteria      *FilterContainerDTO  `json:"meetingsCriteria,omitempty" validate:"omitempty"`
	OpportunityCriteria   *FilterContainerDTO  `json:"opportunityCriteria,omitempty" validate:"omitempty"`
	TeamMemberIDs         []string             `json:"teamMemberIds" validate:"omitempty,dive,required,max=18"`
	UserTimezone          string               `json:"userTimezone" validate:"omitempty,timezone"`
}

type SettingsResponse struct {
	InactivityThreshold   int                  `json:"inactivityThreshold"`
	TrackingPeriod        int                  `json:"trackingPeriod"`
	ActivitiesPerContact  int                  `json:"activitiesPerContact"`
	ContactsPerAccount    int                  `json:"contactsPerAccount"`
	ActivateByMeeting     bool                 `json:"activateByMeeting"`
	ActivateByOpportunity bool                 `json:"activateByOpportunity"`
	MeetingObject         string               `json:"meetingObject"`
	Criteria              []FilterContainerDTO `json:"criteria"`
	MeetingsCriteria      *FilterContainerDTO  `json:"meetingsCriteria,omitempty"`
	OpportunityCriteria   *FilterContainerDTO  `json:"opportunityCriteria,omitempty"`
	TeamMemberIDs         []string             `json:"teamMemberIds"`
	UserTimezone          string               `json:"userTimezone,omitempty"`
	LatestDateQueried     *time.Time           `json:"latestDateQueried,omitempty"`
	UpdatedAt             time.Time            `json:"updatedAt"`
}

type MetadataResponse struct {
	Name            string    `json:"name"`
	FirstOccurrence time.Time `json:"firstOccurrence"`
	LastOccurrence  time.Time `json:"lastOccurrence"`
	Total           int       `json:"total"`
	TaskIDs         []string  `json:"taskIds"`
}

type EffortResponse struct {
	Status              string             `json:"status"`
	DateEntered         time.Time          `json:"dateEntered"`
	TaskIDs             []string           `json:"taskIds"`
	ProspectingMetadata []MetadataResponse `json:"prospectingMetadata"`
}

type OpportunityResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Amount      float64    `json:"amount"`
	StageName   string     `json:"stageName"`
	CloseDate   *time.Time `json:"closeDate,omitempty"`
	CreatedDate time.Time  `json:"createdDate"`
	OwnerID     string     `json:"ownerId"`
}

type ActivationResponse struct {
	ID                       uuid.UUID            `json:"id"`
	AccountID                string               `json:"accountId"`
	AccountName              string               `json:"accountName"`
	AccountOwnerID           string               `json:"accountOwnerId"`
	ActivatedBy              string               `json:"activatedBy"`
	Status                   string               `json:"status"`
	ActivatedDate            time.Time            `json:"activatedDate"`
	EngagedDate              *time.Time           `json:"engagedDate,omitempty"`
	FirstProspectingActivity time.Time            `json:"firstProspectingActivity"`
	LastProspectingActivity  time.Time            `json:"lastProspectingActivity"`
	DaysActivated            int                  `json:"daysActivated"`
	DaysEngaged              *int                 `json:"daysEngaged,omitempty"`
	ActiveContactIDs         []string             `json:"activeContactIds"`
	TaskIDs                  []string             `json:"taskIds"`
	EventIDs                 []string             `json:"eventIds"`
	Opportunity              *OpportunityResponse `json:"opportunity,omitempty"`
	ProspectingMetadata      []MetadataResponse   `json:"prospectingMetadata"`
	ProspectingEffort        []EffortResponse     `json:"prospectingEffort"`
	CreatedAt                time.Time            `json:"createdAt"`
	UpdatedAt                time.Time            `json:"updatedAt"`
}

type ListActivationsResponse struct {
	Items      []ActivationResponse `json:"items"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"pageSize"`
	TotalPages int                  `json:"totalPages"`
}

type TriggerRunRequest struct {
	UserTimezone string `json:"userTimezone" validate:"omitempty,timezone"`
}

type TriggerRunResponse struct {
	// Queued is true when the run went to the worker queue; TaskID names the queued task.
	Queued bool   `json:"queued"`
	TaskID string `json:"taskId,omitempty"`
	// Result is set when the run executed inline.
	Result *RunResultResponse `json:"result,omitempty"`
}

type RunResultResponse struct {
	RunID       uuid.UUID  `json:"runId"`
	Success     bool       `json:"success"`
	Message     string     `json:"message,omitempty"`
	Demoted     int        `json:"demoted"`
	Incremented int        `json:"incremented"`
	Created     int        `json:"created"`
	Diagnostics int        `json:"diagnostics"`
	Watermark   *time.Time `json:"watermark,omitempty"`
}

type RunResponse struct {
	ID               uuid.UUID  `json:"id"`
	Trigger          string     `json:"trigger"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	Success          bool       `json:"success"`
	Message          string     `json:"message,omitempty"`
	DemotedCount     int        `json:"demotedCount"`
	IncrementedCount int        `json:"incrementedCount"`
	CreatedCount     int        `json:"createdCount"`
	DiagnosticsCount int        `json:"diagnosticsCount"`
	Watermark        *time.Time `json:"watermark,omitempty"`
}

type FieldDescriptionResponse struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Label          string   `json:"label"`
	PicklistValues []string `json:"picklistValues,omitempty"`
}

// ToSettings maps a request to domain settings. Filter logic stays in display
// form; the service stores it in atom form.
func (r UpdateSettingsRequest) ToSettings() domain.Settings {
	s := domain.Settings{
		InactivityThreshold:   r.InactivityThreshold,
		TrackingPeriod:        r.TrackingPeriod,
		ActivitiesPerContact:  r.ActivitiesPerContact,
		ContactsPerAccount:    r.ContactsPerAccount,
		ActivateByMeeting:     r.ActivateByMeeting,
		ActivateByOpportunity: r.ActivateByOpportunity,
		MeetingObject:         domain.MeetingObject(r.MeetingObject),
		TeamMemberIDs:         r.TeamMemberIDs,
		UserTimezone:          r.UserTimezone,
	}
	for _, c := range r.Criteria {
		s.Criteria = append(s.Criteria, c.toDomain())
	}
	if r.MeetingsCriteria != nil {
		c := r.MeetingsCriteria.toDomain()
		s.MeetingsCriteria = &c
	}
	if r.OpportunityCriteria != nil {
		c := r.OpportunityCriteria.toDomain()
		s.OpportunityCriteria = &c
	}
	return s
}

func (d FilterContainerDTO) toDomain() domain.FilterContainer {
	c := domain.FilterContainer{
		Name:        d.Name,
		Direction:   domain.Direction(d.Direction),
		FilterLogic: d.FilterLogic,
	}
	for _, f := range d.Filters {
		c.Filters = append(c.Filters, domain.Filter{
			Field:    f.Field,
			Operator: domain.Operator(f.Operator),
			Value:    f.Value,
			DataType: domain.DataType(f.DataType),
		})
	}
	return c
}

func toContainerDTO(c domain.FilterContainer) FilterContainerDTO {
	d := FilterContainerDTO{
		Name:        c.Name,
		Direction:   string(c.Direction),
		Filters:     make([]FilterDTO, 0, len(c.Filters)),
		FilterLogic: filter.ToDisplayLogic(c.FilterLogic),
	}
	for _, f := range c.Filters {
		d.Filters = append(d.Filters, FilterDTO{
			Field:    f.Field,
			Operator: string(f.Operator),
			Value:    f.Value,
			DataType: string(f.DataType),
		})
	}
	return d
}

func ToSettingsResponse(s domain.Settings) SettingsResponse {
	resp := SettingsResponse{
		InactivityThreshold:   s.InactivityThreshold,
		TrackingPeriod:        s.TrackingPeriod,
		ActivitiesPerContact:  s.ActivitiesPerContact,
		ContactsPerAccount:    s.ContactsPerAccount,
		ActivateByMeeting:     s.ActivateByMeeting,
		ActivateByOpportunity: s.ActivateByOpportunity,
		MeetingObject:         string(s.Meeting()),
		Criteria:              make([]FilterContainerDTO, 0, len(s.Criteria)),
		TeamMemberIDs:         nonNil(s.TeamMemberIDs),
		UserTimezone:          s.UserTimezone,
		LatestDateQueried:     s.LatestDateQueried,
		UpdatedAt:             s.UpdatedAt,
	}
	for _, c := range s.Criteria {
		resp.Criteria = append(resp.Criteria, toContainerDTO(c))
	}
	if s.MeetingsCriteria != nil {
		c := toContainerDTO(*s.MeetingsCriteria)
		resp.MeetingsCriteria = &c
	}
	if s.OpportunityCriteria != nil {
		c := toContainerDTO(*s.OpportunityCriteria)
		resp.OpportunityCriteria = &c
	}
	return resp
}

func ToActivationResponse(a *domain.Activation) ActivationResponse {
	resp := ActivationResponse{
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
		ActiveContactIDs:         nonNil(a.ActiveContactIDs),
		TaskIDs:                  nonNil(a.TaskIDs),
		EventIDs:                 nonNil(a.EventIDs),
		ProspectingMetadata:      toMetadata(a.ProspectingMetadata),
		ProspectingEffort:        make([]EffortResponse, 0, len(a.ProspectingEffort)),
		CreatedAt:                a.CreatedAt,
		UpdatedAt:                a.UpdatedAt,
	}
	if o := a.Opportunity; o != nil {
		resp.Opportunity = &OpportunityResponse{
			ID:          o.ID,
			Name:        o.Name,
			Amount:      o.Amount,
			StageName:   o.StageName,
			CloseDate:   o.CloseDate,
			CreatedDate: o.CreatedDate,
			OwnerID:     o.OwnerID,
		}
	}
	for _, e := range a.ProspectingEffort {
		resp.ProspectingEffort = append(resp.ProspectingEffort, EffortResponse{
			Status:              string(e.Status),
			DateEntered:         e.DateEntered,
			TaskIDs:             nonNil(e.TaskIDs),
			ProspectingMetadata: toMetadata(e.ProspectingMetadata),
		})
	}
	return resp
}

func ToRunResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:               r.ID,
		Trigger:          string(r.Trigger),
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		Success:          r.Success,
		Message:          r.Message,
		DemotedCount:     r.DemotedCount,
		IncrementedCount: r.IncrementedCount,
		CreatedCount:     r.CreatedCount,
		DiagnosticsCount: r.DiagnosticsCount,
		Watermark:        r.Watermark,
	}
}

func ToFieldDescriptions(fields []domain.FieldDescription) []FieldDescriptionResponse {
	out := make([]FieldDescriptionResponse, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldDescriptionResponse{Name: f.Name, Type: f.Type, Label: f.Label, PicklistValues: f.PicklistValues})
	}
	return out
}

func toMetadata(in []domain.ProspectingMetadata) []MetadataResponse {
	out := make([]MetadataResponse, 0, len(in))
	for _, m := range in {
		out = append(out, MetadataResponse{
			Name:            m.Name,
			FirstOccurrence: m.FirstOccurrence,
			LastOccurrence:  m.LastOccurrence,
			Total:           m.Total,
			TaskIDs:         nonNil(m.TaskIDs),
		})
	}
	return out
}

func nonNil[S ~[]string](ids S) []string {
	if ids == nil {
		return []string{}
	}
	return []string(ids)
}
