package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/runner"
	"github.com/shaiso/Conduit/internal/steps"
)

// Execute DTOs

// ExecuteRequest — отправка inline-определения.
// Поля определения лежат на верхнем уровне тела запроса.
type ExecuteRequest struct {
	domain.WorkflowDefinition

	Inputs         map[string]any `json:"inputs,omitempty"`
	Queue          string         `json:"task_queue,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ExecuteResponse — ответ на отправку.
type ExecuteResponse struct {
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	TaskQueue  string `json:"task_queue"`
}

// ExecuteFromRun строит ответ на отправку по созданному run.
func ExecuteFromRun(run *domain.Run) ExecuteResponse {
	return ExecuteResponse{
		Status:     "started",
		WorkflowID: run.ID,
		RunID:      run.ID,
		TaskQueue:  run.TaskQueue,
	}
}

// HealthResponse — ответ /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	ActionsCount int    `json:"actions_loaded"`
}

// ActionsResponse — каталог действий.
type ActionsResponse struct {
	Total   int                `json:"total"`
	Actions []steps.ActionInfo `json:"actions"`
}

// Workflow DTOs

// CreateWorkflowRequest — запрос на создание workflow.
// Definition, если задано, сразу сохраняется как версия 1.
type CreateWorkflowRequest struct {
	Name       string                     `json:"name"`
	Definition *domain.WorkflowDefinition `json:"definition,omitempty"`
}

// UpdateWorkflowRequest — запрос на обновление workflow.
type UpdateWorkflowRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// WorkflowResponse — workflow.
type WorkflowResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowFromDomain конвертирует domain.Workflow в WorkflowResponse.
func WorkflowFromDomain(wf domain.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:        wf.ID,
		Name:      wf.Name,
		IsActive:  wf.IsActive,
		CreatedAt: wf.CreatedAt,
	}
}

// WorkflowVersionResponse — версия workflow.
type WorkflowVersionResponse struct {
	WorkflowID uuid.UUID                 `json:"workflow_id"`
	Version    int                       `json:"version"`
	Definition domain.WorkflowDefinition `json:"definition"`
	CreatedAt  time.Time                 `json:"created_at"`
}

// WorkflowVersionFromDomain конвертирует domain.WorkflowVersion в WorkflowVersionResponse.
func WorkflowVersionFromDomain(v domain.WorkflowVersion) WorkflowVersionResponse {
	return WorkflowVersionResponse{
		WorkflowID: v.WorkflowID,
		Version:    v.Version,
		Definition: v.Definition,
		CreatedAt:  v.CreatedAt,
	}
}

// Run DTOs

// CreateRunRequest — запуск зарегистрированного workflow.
type CreateRunRequest struct {
	Inputs         map[string]any `json:"inputs,omitempty"`
	Version        *int           `json:"version,omitempty"`
	TaskQueue      string         `json:"task_queue,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// RunResponse — run.
type RunResponse struct {
	ID              string         `json:"id"`
	WorkflowID      *uuid.UUID     `json:"workflow_id,omitempty"`
	Version         int            `json:"version,omitempty"`
	DefinitionID    string         `json:"definition_id,omitempty"`
	TaskQueue       string         `json:"task_queue"`
	Status          string         `json:"status"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	CurrentNode     string         `json:"current_node,omitempty"`
	Report          *domain.Report `json:"report,omitempty"`
	Error           string         `json:"error,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
// Status — статус запроса: running, completed, failed или cancelled.
func RunFromDomain(r domain.Run) RunResponse {
	resp := RunResponse{
		ID:              r.ID,
		WorkflowID:      r.WorkflowID,
		Version:         r.Version,
		DefinitionID:    r.Definition.ID,
		TaskQueue:       r.TaskQueue,
		Status:          r.Status.QueryStatus(),
		Inputs:          r.Inputs,
		Error:           r.Error,
		CancelRequested: r.CancelRequested,
		IdempotencyKey:  r.IdempotencyKey,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		CreatedAt:       r.CreatedAt,
	}
	if r.IsFinished() {
		resp.Report = r.Report
	} else {
		resp.CurrentNode = r.Checkpoint.CurrentNode
	}
	return resp
}

// StatusResponse — ответ на запрос статуса по ID run.
type StatusResponse struct {
	RunID  string         `json:"run_id"`
	Status string         `json:"status"`
	Report *domain.Report `json:"report,omitempty"`
}

// StatusFromView конвертирует runner.RunView в StatusResponse.
func StatusFromView(v runner.RunView) StatusResponse {
	return StatusResponse{
		RunID:  v.RunID,
		Status: v.Status,
		Report: v.Report,
	}
}

// Task DTOs

// TaskResponse — вызов шага.
type TaskResponse struct {
	ID         uuid.UUID         `json:"id"`
	RunID      string            `json:"run_id"`
	NodeID     string            `json:"node_id"`
	StepType   string            `json:"step_type"`
	Seq        int               `json:"seq"`
	TaskQueue  string            `json:"task_queue,omitempty"`
	Attempt    int               `json:"attempt"`
	Status     string            `json:"status"`
	Input      domain.Params     `json:"input,omitempty"`
	Outputs    domain.StepResult `json:"outputs,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		RunID:      t.RunID,
		NodeID:     t.NodeID,
		StepType:   t.StepType,
		Seq:        t.Seq,
		TaskQueue:  t.TaskQueue,
		Attempt:    t.Attempt,
		Status:     string(t.Status),
		Input:      t.Input,
		Outputs:    t.Outputs,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		Error:      t.Error,
		CreatedAt:  t.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	TaskQueue   string         `json:"task_queue,omitempty"`
	Enabled     bool           `json:"enabled"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// UpdateScheduleRequest — частичное обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	TaskQueue   *string         `json:"task_queue,omitempty"`
	Inputs      *map[string]any `json:"inputs,omitempty"`
}

// SetEnabledRequest — включение/выключение schedule.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — schedule.
type ScheduleResponse struct {
	ID          uuid.UUID      `json:"id"`
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	TaskQueue   string         `json:"task_queue,omitempty"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   *time.Time     `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	LastRunID   string         `json:"last_run_id,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		WorkflowID:  s.WorkflowID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		TaskQueue:   s.TaskQueue,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		Inputs:      s.Inputs,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
