package handler

import (
	"context"
	"net/http"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/ports"
	"activation_backend/internal/activations/service"
	"activation_backend/internal/activations/transport"
	"activation_backend/internal/scheduler"
	"activation_backend/platform/httpkit"
	"activation_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest = "invalid request"
	msgInvalidID      = "invalid activation id"
	defaultPageSize   = 50
	defaultRunsLimit  = 20
)

// ActivationService is the service surface used by the handler.
type ActivationService interface {
	GetSettings(ctx context.Context) (domain.Settings, error)
	UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error)
	ListActivations(ctx context.Context, params ports.ListParams) ([]*domain.Activation, int, error)
	GetActivation(ctx context.Context, id uuid.UUID) (*domain.Activation, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	DescribeObject(ctx context.Context, name string) ([]domain.FieldDescription, error)
	Run(ctx context.Context, req service.RunRequest) service.Result
}

// Handler handles HTTP requests for activations.
type Handler struct {
	svc      ActivationService
	val      *validator.Validator
	enqueuer scheduler.RunEnqueuer
}

// New creates a new activations handler.
func New(svc ActivationService, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// SetEnqueuer routes manual runs through the worker queue instead of running them inline.
func (h *Handler) SetEnqueuer(enqueuer scheduler.RunEnqueuer) {
	h.enqueuer = enqueuer
}

// RegisterRoutes registers read routes for any authenticated user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/activations", h.List)
	rg.GET("/activations/:id", h.GetByID)
	rg.GET("/activation-settings", h.GetSettings)
	rg.GET("/activation-runs", h.ListRuns)
}

// RegisterAdminRoutes registers routes that change settings or start runs.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.PUT("/activation-settings", h.UpdateSettings)
	rg.POST("/activation-runs", h.TriggerRun)
	rg.GET("/crm/objects/:name/fields", h.DescribeObject)
}

func (h *Handler) List(c *gin.Context) {
	var req transport.ListActivationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if httpkit.HandleError(c, h.val.Validate(req)) {
		return
	}

	page := max(req.Page, 1)
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	params := ports.ListParams{
		AccountID: req.AccountID,
		Offset:    (page - 1) * pageSize,
		Limit:     pageSize,
	}
	if req.Status != "" {
		status := domain.Status(req.Status)
		params.Status = &status
	}

	items, total, err := h.svc.ListActivations(c.Request.Context(), params)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.ListActivationsResponse{
		Items:      make([]transport.ActivationResponse, 0, len(items)),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
	for _, a := range items {
		resp.Items = append(resp.Items, transport.ToActivationResponse(a))
	}
	httpkit.OK(c, resp)
}

func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	a, err := h.svc.GetActivation(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToActivationResponse(a))
}

func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.svc.GetSettings(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToSettingsResponse(settings))
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var req transport.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if httpkit.HandleError(c, h.val.Validate(req)) {
		return
	}

	settings, err := h.svc.UpdateSettings(c.Request.Context(), req.ToSettings())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToSettingsResponse(settings))
}

// TriggerRun queues a manual run, or runs it inline when no queue is configured.
func (h *Handler) TriggerRun(c *gin.Context) {
	var req transport.TriggerRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}
	if httpkit.HandleError(c, h.val.Validate(req)) {
		return
	}

	if h.enqueuer != nil {
		taskID, err := h.enqueuer.EnqueueActivationRun(c.Request.Context(), scheduler.ActivationRunPayload{
			UserTimezone: req.UserTimezone,
			Trigger:      domain.RunTriggerManual,
		})
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, transport.TriggerRunResponse{Queued: true, TaskID: taskID})
		return
	}

	result := h.svc.Run(c.Request.Context(), service.RunRequest{
		UserTimezone: req.UserTimezone,
		Trigger:      domain.RunTriggerManual,
	})
	if result.Err != nil && httpkit.HandleError(c, result.Err) {
		return
	}
	httpkit.OK(c, transport.TriggerRunResponse{Result: toRunResult(result)})
}

func (h *Handler) ListRuns(c *gin.Context) {
	var req transport.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if httpkit.HandleError(c, h.val.Validate(req)) {
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultRunsLimit
	}

	runs, err := h.svc.ListRuns(c.Request.Context(), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	out := make([]transport.RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, transport.ToRunResponse(r))
	}
	httpkit.OK(c, out)
}

func (h *Handler) DescribeObject(c *gin.Context) {
	fields, err := h.svc.DescribeObject(c.Request.Context(), c.Param("name"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToFieldDescriptions(fields))
}

func toRunResult(r service.Result) *transport.RunResultResponse {
	var watermark *time.Time
	if r.Watermark != nil {
		w := r.Watermark.UTC()
		watermark = &w
	}
	return &transport.RunResultResponse{
		RunID:       r.RunID,
		Success:     r.Success,
		Message:     r.Message,
		Demoted:     len(r.Demoted),
		Incremented: len(r.Incremented),
		Created:     len(r.Created),
		Diagnostics: len(r.Diagnostics),
		Watermark:   watermark,
	}
}
