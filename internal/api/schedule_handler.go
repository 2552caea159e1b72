package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/scheduler"
)

// ListSchedules возвращает расписания.
// GET /api/v1/schedules?workflow_id=...&enabled=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	var (
		schedules []domain.Schedule
		err       error
	)

	if raw := r.URL.Query().Get("workflow_id"); raw != "" {
		workflowID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			BadRequest(w, "invalid workflow_id")
			return
		}
		schedules, err = h.schedules.ListByWorkflowID(r.Context(), workflowID)
	} else {
		schedules, err = h.schedules.List(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	}
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	enabledFilter := r.URL.Query().Get("enabled")

	result := make([]ScheduleResponse, 0, len(schedules))
	for i := range schedules {
		if enabledFilter != "" && schedules[i].Enabled != (enabledFilter == "true") {
			continue
		}
		result = append(result, ScheduleFromDomain(&schedules[i]))
	}

	List(w, result, len(result))
}

// CreateSchedule создаёт расписание для workflow.
// POST /api/v1/workflows/{id}/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := parseID(w, r, "invalid workflow id")
	if !ok {
		return
	}

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	if _, err := h.workflows.GetByID(r.Context(), workflowID); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	now := time.Now().UTC()
	sched := &domain.Schedule{
		ID:          uuid.New(),
		WorkflowID:  workflowID,
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		IntervalSec: req.IntervalSec,
		Timezone:    req.Timezone,
		TaskQueue:   req.TaskQueue,
		Enabled:     req.Enabled,
		Inputs:      req.Inputs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	if err := planSchedule(sched, now); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if HandleRepoError(w, h.logger, h.schedules.Create(r.Context(), sched), "") {
		return
	}

	Created(w, ScheduleFromDomain(sched))
}

// GetSchedule возвращает расписание по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid schedule id")
	if !ok {
		return
	}

	sched, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// UpdateSchedule частично обновляет расписание. Смена cron,
// интервала или часового пояса пересчитывает next_due_at.
// PUT /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid schedule id")
	if !ok {
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	replan := false
	if req.Name != nil {
		sched.Name = *req.Name
	}
	if req.CronExpr != nil {
		sched.CronExpr = *req.CronExpr
		replan = true
	}
	if req.IntervalSec != nil {
		sched.IntervalSec = *req.IntervalSec
		replan = true
	}
	if req.Timezone != nil {
		sched.Timezone = *req.Timezone
		replan = true
	}
	if req.TaskQueue != nil {
		sched.TaskQueue = *req.TaskQueue
	}
	if req.Inputs != nil {
		sched.Inputs = *req.Inputs
	}

	now := time.Now().UTC()
	if replan {
		if err := planSchedule(sched, now); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}
	sched.UpdatedAt = now

	if HandleRepoError(w, h.logger, h.schedules.Update(r.Context(), sched), "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// DeleteSchedule удаляет расписание.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid schedule id")
	if !ok {
		return
	}

	if HandleRepoError(w, h.logger, h.schedules.Delete(r.Context(), id), "schedule not found") {
		return
	}

	NoContent(w)
}

// SetScheduleEnabled включает или выключает расписание. При включении
// next_due_at считается от текущего момента: пропущенные запуски
// не догоняются.
// PUT /api/v1/schedules/{id}/enabled
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid schedule id")
	if !ok {
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	now := time.Now().UTC()
	if req.Enabled && !sched.Enabled {
		if err := planSchedule(sched, now); err != nil {
			InvalidState(w, err.Error())
			return
		}
	}
	sched.Enabled = req.Enabled
	sched.UpdatedAt = now

	if HandleRepoError(w, h.logger, h.schedules.Update(r.Context(), sched), "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// planSchedule проверяет расписание и выставляет ближайший next_due_at.
func planSchedule(sched *domain.Schedule, now time.Time) error {
	if sched.CronExpr == "" && sched.IntervalSec <= 0 {
		return fmt.Errorf("either cron_expr or interval_sec is required")
	}
	if sched.CronExpr != "" {
		if err := scheduler.ValidateCronExpr(sched.CronExpr); err != nil {
			return err
		}
	}
	if _, err := time.LoadLocation(sched.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q", sched.Timezone)
	}

	next, err := scheduler.CalculateNextDue(sched, now)
	if err != nil {
		return err
	}
	sched.NextDueAt = &next
	return nil
}
