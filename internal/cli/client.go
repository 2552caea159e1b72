package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Ответы API. CLI не импортирует internal/api: клиент зависит только
// от JSON-формата.

// WorkflowResponse — workflow.
type WorkflowResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// VersionResponse — версия workflow.
type VersionResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Version    int             `json:"version"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  string          `json:"created_at"`
}

// RunResponse — run.
type RunResponse struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id,omitempty"`
	Version         int             `json:"version,omitempty"`
	DefinitionID    string          `json:"definition_id,omitempty"`
	TaskQueue       string          `json:"task_queue"`
	Status          string          `json:"status"`
	CurrentNode     string          `json:"current_node,omitempty"`
	Report          json.RawMessage `json:"report,omitempty"`
	Error           string          `json:"error,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	StartedAt       string          `json:"started_at,omitempty"`
	FinishedAt      string          `json:"finished_at,omitempty"`
	CreatedAt       string          `json:"created_at"`
}

// TaskResponse — вызов шага.
type TaskResponse struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id"`
	StepType   string         `json:"step_type"`
	Seq        int            `json:"seq"`
	Attempt    int            `json:"attempt"`
	Status     string         `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ScheduleResponse — расписание.
type ScheduleResponse struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	TaskQueue   string         `json:"task_queue,omitempty"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   string         `json:"next_due_at,omitempty"`
	LastRunAt   string         `json:"last_run_at,omitempty"`
	LastRunID   string         `json:"last_run_id,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// ExecuteResponse — ответ на отправку inline-определения.
type ExecuteResponse struct {
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	TaskQueue  string `json:"task_queue"`
}

// StatusResponse — статус run.
type StatusResponse struct {
	RunID  string          `json:"run_id"`
	Status string          `json:"status"`
	Report json.RawMessage `json:"report,omitempty"`
}

// ActionInfo — тип шага из каталога.
type ActionInfo struct {
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Policy      map[string]any `json:"policy"`
}

// Запросы.

// UpdateWorkflowRequest — обновление workflow.
type UpdateWorkflowRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// CreateRunRequest — запуск зарегистрированного workflow.
type CreateRunRequest struct {
	Inputs         map[string]any `json:"inputs,omitempty"`
	Version        *int           `json:"version,omitempty"`
	TaskQueue      string         `json:"task_queue,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// CreateScheduleRequest — создание расписания.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	TaskQueue   string         `json:"task_queue,omitempty"`
	Enabled     bool           `json:"enabled"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// UpdateScheduleRequest — обновление расписания.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	TaskQueue   *string `json:"task_queue,omitempty"`
}

// ListRunsOpts — фильтр runs.
type ListRunsOpts struct {
	WorkflowID string
	Status     string
	Limit      int
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound проверяет, что сервер ответил 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client — HTTP-клиент Conduit API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Inline-определения

// Execute отправляет определение (JSON-документ) на исполнение.
func (c *Client) Execute(ctx context.Context, definition json.RawMessage) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/workflows/execute", definition, &resp)
	return &resp, err
}

// Status возвращает статус run. Для неизвестного run — статус not-found
// без ошибки.
func (c *Client) Status(ctx context.Context, runID string) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/workflows/"+url.PathEscape(runID), nil, &resp)
	if IsNotFound(err) && resp.Status != "" {
		return &resp, nil
	}
	return &resp, err
}

// Actions возвращает каталог типов шагов.
func (c *Client) Actions(ctx context.Context) ([]ActionInfo, error) {
	var resp struct {
		Actions []ActionInfo `json:"actions"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/actions", nil, &resp)
	return resp.Actions, err
}

// Workflows

func (c *Client) ListWorkflows(ctx context.Context) ([]WorkflowResponse, error) {
	var workflows []WorkflowResponse
	err := c.get(ctx, "/api/v1/workflows", nil, &workflows)
	return workflows, err
}

// CreateWorkflow регистрирует workflow. definition может быть nil.
func (c *Client) CreateWorkflow(ctx context.Context, name string, definition json.RawMessage) (*WorkflowResponse, error) {
	body := map[string]any{"name": name}
	if definition != nil {
		body["definition"] = definition
	}
	var wf WorkflowResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/workflows", body, &wf)
	return &wf, err
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.get(ctx, "/api/v1/workflows/"+id, nil, &wf)
	return &wf, err
}

func (c *Client) UpdateWorkflow(ctx context.Context, id string, req UpdateWorkflowRequest) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.send(ctx, http.MethodPut, "/api/v1/workflows/"+id, req, &wf)
	return &wf, err
}

func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/api/v1/workflows/"+id, nil, nil)
}

func (c *Client) ListVersions(ctx context.Context, workflowID string) ([]VersionResponse, error) {
	var versions []VersionResponse
	err := c.get(ctx, "/api/v1/workflows/"+workflowID+"/versions", nil, &versions)
	return versions, err
}

// PublishVersion сохраняет новую версию определения.
func (c *Client) PublishVersion(ctx context.Context, workflowID string, definition json.RawMessage) (*VersionResponse, error) {
	var v VersionResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/workflows/"+workflowID+"/versions", definition, &v)
	return &v, err
}

// Runs

func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.WorkflowID != "" {
		params.Set("workflow_id", opts.WorkflowID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.get(ctx, "/api/v1/runs", params, &runs)
	return runs, err
}

func (c *Client) StartRun(ctx context.Context, workflowID string, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/workflows/"+workflowID+"/runs", req, &run)
	return &run, err
}

func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &run)
	return &run, err
}

// RunState возвращает снимок {nodeResults, executionPath} как
// декодированный JSON.
func (c *Client) RunState(ctx context.Context, id string) (map[string]any, error) {
	var state map[string]any
	err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/state", nil, &state)
	return state, err
}

func (c *Client) CancelRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(id)+"/cancel", nil, &run)
	return &run, err
}

func (c *Client) ListTasks(ctx context.Context, runID string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(runID)+"/tasks", nil, &tasks)
	return tasks, err
}

// Schedules

// ListSchedules возвращает расписания. Непустой workflowID фильтрует.
func (c *Client) ListSchedules(ctx context.Context, workflowID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if workflowID != "" {
		params.Set("workflow_id", workflowID)
	}

	var schedules []ScheduleResponse
	err := c.get(ctx, "/api/v1/schedules", params, &schedules)
	return schedules, err
}

func (c *Client) CreateSchedule(ctx context.Context, workflowID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var s ScheduleResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/workflows/"+workflowID+"/schedules", req, &s)
	return &s, err
}

func (c *Client) GetSchedule(ctx context.Context, id string) (*ScheduleResponse, error) {
	var s ScheduleResponse
	err := c.get(ctx, "/api/v1/schedules/"+id, nil, &s)
	return &s, err
}

func (c *Client) UpdateSchedule(ctx context.Context, id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var s ScheduleResponse
	err := c.send(ctx, http.MethodPut, "/api/v1/schedules/"+id, req, &s)
	return &s, err
}

func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/api/v1/schedules/"+id, nil, nil)
}

// SetScheduleEnabled включает или выключает расписание.
func (c *Client) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (*ScheduleResponse, error) {
	var s ScheduleResponse
	err := c.send(ctx, http.MethodPut, "/api/v1/schedules/"+id+"/enabled", map[string]bool{"enabled": enabled}, &s)
	return &s, err
}

// HTTP

// get выполняет GET и разворачивает обёртку {data}.
func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.send(ctx, http.MethodGet, path, nil, result)
}

// send выполняет запрос и разворачивает обёртку {data}.
func (c *Client) send(ctx context.Context, method, path string, body, result any) error {
	var wrapped dataResponse
	if err := c.doJSON(ctx, method, path, body, &wrapped); err != nil {
		return err
	}
	if result == nil || len(wrapped.Data) == 0 {
		return nil
	}
	return json.Unmarshal(wrapped.Data, result)
}

// doJSON выполняет запрос и декодирует тело ответа как есть.
// Тело ответа с ошибкой тоже декодируется в result, если это возможно.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error.Code != "" {
			apiErr.Code = er.Error.Code
			apiErr.Message = er.Error.Message
		} else if result != nil {
			_ = json.Unmarshal(data, result)
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusNoContent || result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
