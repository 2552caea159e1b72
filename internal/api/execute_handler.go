package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/runner"
)

// maxDefinitionBytes ограничивает тело отправки определения.
const maxDefinitionBytes = 4 << 20

// Health сообщает, что процесс жив.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count := 0
	if h.registry != nil {
		count = len(h.registry.Types())
	}

	JSON(w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		Service:      ServiceName,
		ActionsCount: count,
	})
}

// ListActions возвращает каталог зарегистрированных типов шагов.
// GET /api/actions
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	resp := ActionsResponse{}
	if h.registry != nil {
		resp.Actions = h.registry.Catalog()
	}
	resp.Total = len(resp.Actions)

	JSON(w, http.StatusOK, resp)
}

// ExecuteWorkflow принимает inline-определение и запускает run.
// POST /api/workflows/execute
func (h *Handler) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		BadRequest(w, "failed to read request body")
		return
	}

	if h.validator != nil {
		if err := h.validator.ValidateDocument(body); err != nil {
			Error(w, http.StatusBadRequest, ErrCodeInvalidGraph, err.Error())
			return
		}
	}

	var req ExecuteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	run, err := h.engine.Submit(r.Context(), runner.Submission{
		Definition:     req.WorkflowDefinition,
		Inputs:         req.Inputs,
		TaskQueue:      req.Queue,
		IdempotencyKey: req.IdempotencyKey,
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	JSON(w, http.StatusOK, ExecuteFromRun(run))
}

// GetWorkflowStatus возвращает статус run по его ID.
// GET /api/workflows/{id}
func (h *Handler) GetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.Status(r.Context(), r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return
	}

	status := http.StatusOK
	if view.Status == domain.QueryStatusNotFound {
		status = http.StatusNotFound
	}
	JSON(w, status, StatusFromView(view))
}
