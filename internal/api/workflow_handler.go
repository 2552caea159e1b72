package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/engine"
)

// ListWorkflows возвращает зарегистрированные workflows.
// GET /api/v1/workflows?limit=...&offset=...
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.workflows.List(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WorkflowResponse, len(workflows))
	for i, wf := range workflows {
		result[i] = WorkflowFromDomain(wf)
	}

	List(w, result, len(result))
}

// CreateWorkflow регистрирует workflow. Определение из запроса,
// если есть, сохраняется как первая версия.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	var def *domain.WorkflowDefinition
	if req.Definition != nil {
		var err error
		if def, err = h.checkDefinition(req.Definition); err != nil {
			Error(w, http.StatusBadRequest, ErrCodeInvalidGraph, err.Error())
			return
		}
	}

	wf := &domain.Workflow{
		ID:        uuid.New(),
		Name:      req.Name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if HandleRepoError(w, h.logger, h.workflows.Create(r.Context(), wf), "") {
		return
	}

	if def != nil {
		v := &domain.WorkflowVersion{WorkflowID: wf.ID, Definition: *def}
		if HandleRepoError(w, h.logger, h.workflows.CreateVersion(r.Context(), v), "workflow not found") {
			return
		}
	}

	Created(w, WorkflowFromDomain(*wf))
}

// GetWorkflow возвращает workflow по ID.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid workflow id")
	if !ok {
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, WorkflowFromDomain(*wf))
}

// UpdateWorkflow меняет имя или активность workflow.
// PUT /api/v1/workflows/{id}
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid workflow id")
	if !ok {
		return
	}

	var req UpdateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			BadRequest(w, "name must not be empty")
			return
		}
		wf.Name = *req.Name
	}
	if req.IsActive != nil {
		wf.IsActive = *req.IsActive
	}

	if HandleRepoError(w, h.logger, h.workflows.Update(r.Context(), wf), "workflow not found") {
		return
	}

	Success(w, WorkflowFromDomain(*wf))
}

// DeleteWorkflow удаляет workflow вместе с версиями.
// DELETE /api/v1/workflows/{id}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid workflow id")
	if !ok {
		return
	}

	if HandleRepoError(w, h.logger, h.workflows.Delete(r.Context(), id), "workflow not found") {
		return
	}

	NoContent(w)
}

// ListWorkflowVersions возвращает версии workflow, новые первыми.
// GET /api/v1/workflows/{id}/versions
func (h *Handler) ListWorkflowVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid workflow id")
	if !ok {
		return
	}

	if _, err := h.workflows.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	versions, err := h.workflows.ListVersions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WorkflowVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = WorkflowVersionFromDomain(v)
	}

	List(w, result, len(result))
}

// CreateWorkflowVersion сохраняет новую неизменяемую версию определения.
// POST /api/v1/workflows/{id}/versions
func (h *Handler) CreateWorkflowVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid workflow id")
	if !ok {
		return
	}

	var def domain.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	normalized, err := h.checkDefinition(&def)
	if err != nil {
		Error(w, http.StatusBadRequest, ErrCodeInvalidGraph, err.Error())
		return
	}

	v := &domain.WorkflowVersion{WorkflowID: id, Definition: *normalized}
	if HandleRepoError(w, h.logger, h.workflows.CreateVersion(r.Context(), v), "workflow not found") {
		return
	}

	Created(w, WorkflowVersionFromDomain(*v))
}

// GetWorkflowVersion возвращает конкретную версию.
// GET /api/v1/workflows/{id}/versions/{version}
func (h *Handler) GetWorkflowVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid workflow id")
	if !ok {
		return
	}

	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version <= 0 {
		BadRequest(w, "invalid version")
		return
	}

	v, err := h.workflows.GetVersion(r.Context(), id, version)
	if HandleRepoError(w, h.logger, err, "workflow version not found") {
		return
	}

	Success(w, WorkflowVersionFromDomain(*v))
}

// checkDefinition нормализует legacy-списки next и проверяет граф.
// Типы шагов здесь не сверяются с реестром: их проверит Engine при запуске.
func (h *Handler) checkDefinition(def *domain.WorkflowDefinition) (*domain.WorkflowDefinition, error) {
	if h.validator != nil {
		raw, err := json.Marshal(def)
		if err != nil {
			return nil, err
		}
		if err := h.validator.ValidateDocument(raw); err != nil {
			return nil, err
		}
	}

	normalized := engine.NormalizeEdges(def)
	if err := engine.Validate(normalized, engine.ValidateOptions{}); err != nil {
		return nil, err
	}
	return normalized, nil
}

// parseID разбирает UUID из пути. При ошибке отвечает 400.
func parseID(w http.ResponseWriter, r *http.Request, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, message)
		return uuid.Nil, false
	}
	return id, true
}
