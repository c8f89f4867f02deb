// Package activations provides the account activation bounded context module.
package activations

import (
	"activation_backend/internal/activations/handler"
	"activation_backend/internal/activations/ports"
	"activation_backend/internal/activations/repository"
	"activation_backend/internal/activations/service"
	"activation_backend/internal/events"
	apphttp "activation_backend/internal/http"
	"activation_backend/internal/scheduler"
	"activation_backend/platform/logger"
	"activation_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the activations bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the activations module backed by Postgres and the given CRM.
func NewModule(
	pool *pgxpool.Pool,
	crm ports.CRM,
	eventBus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
	defaultTimezone string,
) *Module {
	repo := repository.New(pool)
	svc := service.New(crm, repo, log)
	svc.SetRunRecorder(repo)
	svc.SetEventBus(eventBus)
	svc.SetDefaultTimezone(defaultTimezone)

	return &Module{handler: handler.New(svc, val), service: svc}
}

// SetArchiver enables archiving of run snapshots.
func (m *Module) SetArchiver(archiver ports.SnapshotArchiver) {
	m.service.SetArchiver(archiver)
}

// SetEnqueuer sends manual runs to the worker queue.
func (m *Module) SetEnqueuer(enqueuer scheduler.RunEnqueuer) {
	m.handler.SetEnqueuer(enqueuer)
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "activations"
}

// Service returns the service layer for the worker and CLI.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts activation routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
	m.handler.RegisterAdminRoutes(ctx.Admin)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
