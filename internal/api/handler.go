package api

import (
	"log/slog"

	"github.com/shaiso/Conduit/internal/engine"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/runner"
	"github.com/shaiso/Conduit/internal/steps"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// ServiceName — имя сервиса в ответе /health.
const ServiceName = "conduit-api"

// Handler — обработчик API с зависимостями.
type Handler struct {
	engine    *runner.Engine
	runs      repo.RunStore
	tasks     repo.TaskStore
	workflows repo.WorkflowStore
	schedules repo.ScheduleStore
	registry  *steps.Registry
	validator *engine.SchemaValidator
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Config — зависимости Handler.
type Config struct {
	// Engine принимает отправки, отдаёт статус и снимки, отменяет runs.
	Engine *runner.Engine

	Runs      repo.RunStore
	Tasks     repo.TaskStore
	Workflows repo.WorkflowStore
	Schedules repo.ScheduleStore

	// Registry — каталог действий. По умолчанию реестр Engine.
	Registry *steps.Registry

	// Validator проверяет сырой JSON определения (опционально).
	Validator *engine.SchemaValidator

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil && cfg.Engine != nil {
		registry = cfg.Engine.Registry()
	}

	return &Handler{
		engine:    cfg.Engine,
		runs:      cfg.Runs,
		tasks:     cfg.Tasks,
		workflows: cfg.Workflows,
		schedules: cfg.Schedules,
		registry:  registry,
		validator: cfg.Validator,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}
