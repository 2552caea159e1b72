package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunIDTimeLayout — формат временной части run ID.
const RunIDTimeLayout = "20060102150405"

// Run — экземпляр выполнения workflow.
//
// Run создаётся когда:
// - Клиент отправляет определение (inline или зарегистрированный workflow)
// - Scheduler создаёт run по расписанию
//
// Каждый run фиксирует копию определения графа и владеет своим
// ExecutionState (Checkpoint). Между runs состояние не разделяется.
type Run struct {
	// ID — идентификатор run: "{definition.id}-{YYYYmmddHHMMSS}".
	ID string `json:"id"`

	// WorkflowID — ссылка на зарегистрированный workflow (nil для inline-определений).
	WorkflowID *uuid.UUID `json:"workflow_id,omitempty"`

	// Version — версия workflow (0 для inline-определений).
	Version int `json:"version,omitempty"`

	// Definition — неизменяемая копия графа.
	Definition WorkflowDefinition `json:"definition"`

	// TaskQueue — имя очереди, в которую маршрутизируются шаги run.
	TaskQueue string `json:"task_queue"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Inputs — начальные параметры. Для точки входа выступают
	// в роли "предыдущего результата" при связывании параметров.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Checkpoint — долговременная копия ExecutionState и позиции в графе.
	Checkpoint Checkpoint `json:"checkpoint"`

	// Report — итоговый отчёт (заполняется при завершении).
	Report *Report `json:"report,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// CancelRequested — запрошена отмена. Учитывается контроллером
	// между переходами узлов.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// IdempotencyKey — ключ идемпотентности (например, для scheduled runs).
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// LeaseOwner — процесс, который сейчас исполняет run.
	LeaseOwner string `json:"lease_owner,omitempty"`

	// LeaseUntil — срок аренды. Истёкшая аренда RUNNING run означает,
	// что владелец упал и run нужно возобновить.
	LeaseUntil *time.Time `json:"lease_until,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpoint — сохраняемая копия состояния контроллера.
//
// Записывается до каждой точки приостановки (вызов шага, ожидание),
// поэтому после рестарта run продолжается с той же позиции.
type Checkpoint struct {
	// CurrentNode — узел, который исполняется или будет исполнен следующим.
	CurrentNode string `json:"currentNode,omitempty"`

	// NodeResults — результат каждого выполненного узла (последняя запись побеждает).
	NodeResults map[string]StepResult `json:"nodeResults"`

	// ExecutionPath — ID узлов в порядке фактического выполнения (append-only).
	ExecutionPath []string `json:"executionPath"`

	// Steps — количество выполненных узлов (для лимита циклов).
	Steps int `json:"steps"`

	// WaitUntil — момент окончания текущего ожидания (для wait-узлов).
	WaitUntil *time.Time `json:"waitUntil,omitempty"`

	// Warnings — предупреждения, накопленные за время выполнения.
	Warnings []string `json:"warnings,omitempty"`
}

// NewCheckpoint создаёт пустой checkpoint, указывающий на точку входа.
func NewCheckpoint(entry string) Checkpoint {
	return Checkpoint{
		CurrentNode:   entry,
		NodeResults:   make(map[string]StepResult),
		ExecutionPath: make([]string, 0),
	}
}

// Report — итоговый отчёт run.
type Report struct {
	// Status — "completed", "failed" или "cancelled".
	Status string `json:"status"`

	// ExecutionPath — фактический путь по графу.
	ExecutionPath []string `json:"executionPath"`

	// FinalResults — все результаты узлов.
	FinalResults map[string]StepResult `json:"finalResults"`

	// FailedNode — узел, на котором run упал.
	FailedNode string `json:"failedNode,omitempty"`

	// Error — сообщение ошибки упавшего узла.
	Error string `json:"error,omitempty"`

	// Warnings — нефатальные предупреждения (неизвестный узел, неоднозначная маршрутизация).
	Warnings []string `json:"warnings,omitempty"`
}

// NewRunID формирует ID run: "{prefix}-{YYYYmmddHHMMSS}".
// Без префикса используется случайный UUID.
func NewRunID(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, now.UTC().Format(RunIDTimeLayout))
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// LeaseExpired проверяет, истекла ли аренда.
func (r *Run) LeaseExpired(now time.Time) bool {
	return r.LeaseUntil == nil || now.After(*r.LeaseUntil)
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.UpdatedAt = now
}

// MarkCompleted переводит run в статус COMPLETED с отчётом.
func (r *Run) MarkCompleted(report *Report) {
	r.finish(RunStatusCompleted, report)
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string, report *Report) {
	r.Error = err
	r.finish(RunStatusFailed, report)
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled(report *Report) {
	r.finish(RunStatusCancelled, report)
}

func (r *Run) finish(status RunStatus, report *Report) {
	now := time.Now()
	r.Status = status
	r.FinishedAt = &now
	r.UpdatedAt = now
	r.Report = report
	r.LeaseOwner = ""
	r.LeaseUntil = nil
}
