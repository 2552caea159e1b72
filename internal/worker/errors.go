package worker

import "errors"

// Ошибки воркера.
var (
	// ErrTaskNotFound — task не найден в хранилище.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStaleAttempt — сообщение относится к попытке, которая уже
	// не исполняется (оркестратор перешёл к следующей или сообщение
	// доставлено повторно).
	ErrStaleAttempt = errors.New("stale task attempt")
)
