package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/ports"
	"activation_backend/internal/activations/service"
	"activation_backend/internal/activations/transport"
	"activation_backend/internal/scheduler"
	"activation_backend/platform/apperr"
	"activation_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	settings   domain.Settings
	saved      *domain.Settings
	items      []*domain.Activation
	total      int
	listParams ports.ListParams
	runs       []domain.Run
	runReq     *service.RunRequest
	result     service.Result
	fields     []domain.FieldDescription
}

func (f *fakeService) GetSettings(context.Context) (domain.Settings, error) {
	return f.settings, nil
}

func (f *fakeService) UpdateSettings(_ context.Context, s domain.Settings) (domain.Settings, error) {
	if len(s.Criteria) > 0 && s.Criteria[0].FilterLogic == "broken" {
		return domain.Settings{}, apperr.Validation("invalid criteria")
	}
	f.saved = &s
	return s, nil
}

func (f *fakeService) ListActivations(_ context.Context, p ports.ListParams) ([]*domain.Activation, int, error) {
	f.listParams = p
	return f.items, f.total, nil
}

func (f *fakeService) GetActivation(_ context.Context, id uuid.UUID) (*domain.Activation, error) {
	for _, a := range f.items {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, apperr.NotFound("activation not found")
}

func (f *fakeService) ListRuns(context.Context, int) ([]domain.Run, error) {
	return f.runs, nil
}

func (f *fakeService) DescribeObject(_ context.Context, name string) ([]domain.FieldDescription, error) {
	if name == "Nope" {
		return nil, apperr.NotFound("unknown object")
	}
	return f.fields, nil
}

func (f *fakeService) Run(_ context.Context, req service.RunRequest) service.Result {
	f.runReq = &req
	return f.result
}

type fakeEnqueuer struct {
	payloads []scheduler.ActivationRunPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueActivationRun(_ context.Context, p scheduler.ActivationRunPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, p)
	return "task-1", nil
}

func newEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h.RegisterRoutes(engine.Group(""))
	h.RegisterAdminRoutes(engine.Group(""))
	return engine
}

func do(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func sampleActivation() *domain.Activation {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Activation{
		ID:                       uuid.New(),
		AccountID:                "001A",
		AccountName:              "Acme",
		Status:                   domain.StatusEngaged,
		ActivatedDate:            day,
		FirstProspectingActivity: day,
		LastProspectingActivity:  day,
		TaskIDs:                  domain.NewIDSet("00T1"),
	}
}

func TestListPassesFiltersAndPaging(t *testing.T) {
	svc := &fakeService{items: []*domain.Activation{sampleActivation()}, total: 41}
	engine := newEngine(New(svc, validator.New()))

	rec := do(engine, http.MethodGet, "/activations?status=Meeting%20Set&accountId=001A&page=3&pageSize=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, svc.listParams.Status)
	assert.Equal(t, domain.StatusMeetingSet, *svc.listParams.Status)
	assert.Equal(t, "001A", svc.listParams.AccountID)
	assert.Equal(t, 40, svc.listParams.Offset)
	assert.Equal(t, 20, svc.listParams.Limit)

	var resp transport.ListActivationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalPages)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "Engaged", resp.Items[0].Status)
	assert.Equal(t, []string{}, resp.Items[0].EventIDs)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	engine := newEngine(New(&fakeService{}, validator.New()))

	rec := do(engine, http.MethodGet, "/activations?status=Dormant", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetByID(t *testing.T) {
	a := sampleActivation()
	engine := newEngine(New(&fakeService{items: []*domain.Activation{a}}, validator.New()))

	assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/activations/"+a.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, do(engine, http.MethodGet, "/activations/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(engine, http.MethodGet, "/activations/not-a-uuid", nil).Code)
}

func TestUpdateSettingsMapsDisplayLogic(t *testing.T) {
	svc := &fakeService{}
	engine := newEngine(New(svc, validator.New()))

	body := transport.UpdateSettingsRequest{
		InactivityThreshold:  10,
		TrackingPeriod:       5,
		ActivitiesPerContact: 3,
		ContactsPerAccount:   2,
		Criteria: []transport.FilterContainerDTO{{
			Name:        "Calls",
			Direction:   "outbound",
			FilterLogic: "1 OR 2",
			Filters: []transport.FilterDTO{
				{Field: "Type", Operator: "equals", Value: "Call", DataType: "string"},
				{Field: "Subject", Operator: "contains", Value: "call", DataType: "string"},
			},
		}},
		UserTimezone: "Europe/Amsterdam",
	}
	rec := do(engine, http.MethodPut, "/activation-settings", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, svc.saved)
	assert.Equal(t, domain.DirectionOutbound, svc.saved.Criteria[0].Direction)
	assert.Equal(t, domain.OpContains, svc.saved.Criteria[0].Filters[1].Operator)
	assert.Equal(t, "Europe/Amsterdam", svc.saved.UserTimezone)
}

func TestUpdateSettingsValidation(t *testing.T) {
	engine := newEngine(New(&fakeService{}, validator.New()))

	rec := do(engine, http.MethodPut, "/activation-settings", transport.UpdateSettingsRequest{
		InactivityThreshold: 0,
		UserTimezone:        "Mars/Olympus",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "min=1", resp.Details["inactivityThreshold"])
	assert.Equal(t, "timezone", resp.Details["userTimezone"])
}

func TestTriggerRunQueuesWhenEnqueuerSet(t *testing.T) {
	svc := &fakeService{}
	enq := &fakeEnqueuer{}
	h := New(svc, validator.New())
	h.SetEnqueuer(enq)
	engine := newEngine(h)

	rec := do(engine, http.MethodPost, "/activation-runs", transport.TriggerRunRequest{UserTimezone: "UTC"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, domain.RunTriggerManual, enq.payloads[0].Trigger)
	assert.Nil(t, svc.runReq)

	enq.err = apperr.Conflict("activation run already queued")
	assert.Equal(t, http.StatusConflict, do(engine, http.MethodPost, "/activation-runs", nil).Code)
}

func TestTriggerRunInline(t *testing.T) {
	runID := uuid.New()
	svc := &fakeService{result: service.Result{
		RunID:   runID,
		Success: true,
		Created: []*domain.Activation{sampleActivation()},
	}}
	engine := newEngine(New(svc, validator.New()))

	rec := do(engine, http.MethodPost, "/activation-runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.runReq)
	assert.Equal(t, domain.RunTriggerManual, svc.runReq.Trigger)

	var resp transport.TriggerRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Queued)
	require.NotNil(t, resp.Result)
	assert.Equal(t, runID, resp.Result.RunID)
	assert.Equal(t, 1, resp.Result.Created)
}

func TestTriggerRunInlineFailure(t *testing.T) {
	svc := &fakeService{result: service.Result{
		Success: false,
		Message: "crm unavailable",
		Err:     apperr.Transient("crm unavailable", nil),
	}}
	engine := newEngine(New(svc, validator.New()))

	assert.Equal(t, http.StatusServiceUnavailable, do(engine, http.MethodPost, "/activation-runs", nil).Code)
}

func TestTriggerRunInlineConflict(t *testing.T) {
	svc := &fakeService{result: service.Result{
		Message: "an activation run is already in progress",
		Err:     apperr.Conflict("an activation run is already in progress"),
	}}
	engine := newEngine(New(svc, validator.New()))

	assert.Equal(t, http.StatusConflict, do(engine, http.MethodPost, "/activation-runs", nil).Code)
}

func TestDescribeObject(t *testing.T) {
	svc := &fakeService{fields: []domain.FieldDescription{{Name: "Type", Type: "picklist", PicklistValues: []string{"Call"}}}}
	engine := newEngine(New(svc, validator.New()))

	rec := do(engine, http.MethodGet, "/crm/objects/Task/fields", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"picklistValues":["Call"]`)

	assert.Equal(t, http.StatusNotFound, do(engine, http.MethodGet, "/crm/objects/Nope/fields", nil).Code)
}
