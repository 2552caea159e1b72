package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusCompleted — граф пройден до конца.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed — шаг исчерпал попытки или превышен лимит шагов.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// QueryStatus возвращает статус для внешнего запроса состояния:
// running, completed, failed или cancelled.
func (s RunStatus) QueryStatus() string {
	switch s {
	case RunStatusCompleted:
		return QueryStatusCompleted
	case RunStatusFailed:
		return QueryStatusFailed
	case RunStatusCancelled:
		return QueryStatusCancelled
	default:
		return QueryStatusRunning
	}
}

// Статусы для запроса состояния run.
const (
	QueryStatusRunning   = "running"
	QueryStatusCompleted = "completed"
	QueryStatusFailed    = "failed"
	QueryStatusCancelled = "cancelled"
	QueryStatusNotFound  = "not-found"
)

// TaskStatus — статус вызова шага.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCEEDED
//	                 ↘ FAILED (retry → обратно в QUEUED)
type TaskStatus string

const (
	// TaskStatusQueued — вызов ожидает исполнителя.
	TaskStatusQueued TaskStatus = "QUEUED"

	// TaskStatusRunning — шаг выполняется.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — шаг вернул результат.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — шаг упал после всех попыток.
	TaskStatusFailed TaskStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}
