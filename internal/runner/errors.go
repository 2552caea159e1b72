package runner

import (
	"errors"
	"fmt"
)

// Ошибки исполнения run.
var (
	// ErrEmptyWorkflow — run запущен с определением без узлов
	// (валидация при отправке была пропущена).
	ErrEmptyWorkflow = errors.New("workflow has no nodes")

	// ErrUnknownNode — текущий узел отсутствует в графе. Не фатальна:
	// run завершается как completed с предупреждением.
	ErrUnknownNode = errors.New("unknown node")

	// ErrCycleLimitExceeded — количество выполненных узлов превысило max_steps.
	ErrCycleLimitExceeded = errors.New("cycle limit exceeded")

	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyActive — run уже исполняется этим процессом.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunExists — run с явно заданным ID уже существует.
	ErrRunExists = errors.New("run already exists")

	// ErrRunFinished — операция над уже завершённым run.
	ErrRunFinished = errors.New("run already finished")

	// ErrInvalidSubmission — определение или параметры отправки невалидны.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrEngineStopped — движок остановлен.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrTaskFailed — удалённая попытка шага завершилась ошибкой.
	ErrTaskFailed = errors.New("task attempt failed")
)

// StepInvocationError — шаг исчерпал попытки (или упал с неповторяемой ошибкой).
type StepInvocationError struct {
	NodeID   string
	StepType string
	Attempts int
	Err      error
}

// Error реализует интерфейс error.
func (e *StepInvocationError) Error() string {
	return fmt.Sprintf("node %s (%s) failed after %d attempt(s): %v", e.NodeID, e.StepType, e.Attempts, e.Err)
}

// Unwrap возвращает ошибку последней попытки.
func (e *StepInvocationError) Unwrap() error {
	return e.Err
}

// Message возвращает текст ошибки последней попытки без контекста узла.
// Записывается в результат узла и в отчёт.
func (e *StepInvocationError) Message() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}
