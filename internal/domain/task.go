package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task — один вызов шага внутри run.
//
// Task создаётся контроллером перед вызовом шага и сохраняется
// до приостановки. По DedupKey повторный вход в тот же узел после
// рестарта находит уже выполненный вызов и не повторяет его.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID string `json:"run_id"`

	// NodeID — ID узла графа.
	NodeID string `json:"node_id"`

	// StepType — тип шага в Step Registry.
	StepType string `json:"step_type"`

	// Seq — позиция узла в executionPath на момент входа.
	// Различает повторные посещения одного узла при циклах.
	Seq int `json:"seq"`

	// DedupKey — "{run_id}/{node_id}/{seq}", не зависит от номера попытки.
	DedupKey string `json:"dedup_key"`

	// TaskQueue — очередь, в которую маршрутизируется вызов.
	TaskQueue string `json:"task_queue,omitempty"`

	// Attempt — номер попытки (начиная с 1).
	Attempt int `json:"attempt"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// Input — эффективные параметры после связывания.
	Input Params `json:"input,omitempty"`

	// Outputs — результат шага.
	Outputs StepResult `json:"outputs,omitempty"`

	// StartedAt — время начала текущей попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки последней попытки.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`
}

// DedupKey формирует ключ идемпотентности вызова шага.
func DedupKey(runID, nodeID string, seq int) string {
	return fmt.Sprintf("%s/%s/%d", runID, nodeID, seq)
}

// NewTask создаёт task в статусе QUEUED.
func NewTask(runID, nodeID, stepType string, seq int, input Params) *Task {
	return &Task{
		ID:        uuid.New(),
		RunID:     runID,
		NodeID:    nodeID,
		StepType:  stepType,
		Seq:       seq,
		DedupKey:  DedupKey(runID, nodeID, seq),
		Status:    TaskStatusQueued,
		Input:     input,
		CreatedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// MarkRunning переводит task в статус RUNNING и увеличивает номер попытки.
func (t *Task) MarkRunning() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.FinishedAt = nil
	t.Attempt++
}

// MarkSucceeded переводит task в статус SUCCEEDED с результатом.
func (t *Task) MarkSucceeded(outputs StepResult) {
	now := time.Now()
	t.Status = TaskStatusSucceeded
	t.FinishedAt = &now
	t.Outputs = outputs
	t.Error = ""
}

// MarkFailed переводит task в статус FAILED с ошибкой.
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.FinishedAt = &now
	t.Error = err
}

// ResetForRetry подготавливает task для повторной попытки.
// Attempt увеличится при следующем MarkRunning().
func (t *Task) ResetForRetry(lastErr string) {
	t.Status = TaskStatusQueued
	t.StartedAt = nil
	t.FinishedAt = nil
	t.Error = lastErr
}

// CanRetry проверяет, можно ли сделать ещё одну попытку.
func (t *Task) CanRetry(maxAttempts int) bool {
	return t.Attempt < maxAttempts
}
