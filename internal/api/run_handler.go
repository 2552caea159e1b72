package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/runner"
)

// ListRuns возвращает runs с фильтрацией.
// GET /api/v1/runs?workflow_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	if raw := r.URL.Query().Get("workflow_id"); raw != "" {
		workflowID, err := uuid.Parse(raw)
		if err != nil {
			BadRequest(w, "invalid workflow_id")
			return
		}
		filter.WorkflowID = &workflowID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(strings.ToUpper(status))
	}

	runs, err := h.runs.List(r.Context(), filter.Normalize())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun запускает зарегистрированный workflow: последнюю
// или указанную версию.
// POST /api/v1/workflows/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := parseID(w, r, "invalid workflow id")
	if !ok {
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	if _, err := h.workflows.GetByID(r.Context(), workflowID); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	var (
		version *domain.WorkflowVersion
		err     error
	)
	if req.Version != nil {
		version, err = h.workflows.GetVersion(r.Context(), workflowID, *req.Version)
		if HandleRepoError(w, h.logger, err, "workflow version not found") {
			return
		}
	} else {
		version, err = h.workflows.GetLatestVersion(r.Context(), workflowID)
		if HandleRepoError(w, h.logger, err, "workflow has no versions") {
			return
		}
	}

	run, err := h.engine.Submit(r.Context(), runner.Submission{
		Definition:     version.Definition,
		Inputs:         req.Inputs,
		TaskQueue:      req.TaskQueue,
		IdempotencyKey: req.IdempotencyKey,
		WorkflowID:     &workflowID,
		Version:        version.Version,
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetByID(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// GetRunState возвращает снимок {nodeResults, executionPath}.
// GET /api/v1/runs/{id}/state
func (h *Handler) GetRunState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.engine.Query(r.Context(), r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, snapshot)
}

// CancelRun запрашивает отмену run.
// Run завершится как cancelled на ближайшей границе узлов.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if HandleEngineError(w, h.logger, h.engine.Cancel(r.Context(), id)) {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Accepted(w, RunFromDomain(*run))
}

// ListRunTasks возвращает вызовы шагов run.
// GET /api/v1/runs/{id}/tasks
func (h *Handler) ListRunTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.runs.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	tasks, err := h.tasks.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}
