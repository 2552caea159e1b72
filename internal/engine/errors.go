package engine

import "errors"

// Ошибки валидации WorkflowDefinition.
var (
	// ErrMalformedGraph — определение не содержит узлов.
	ErrMalformedGraph = errors.New("workflow definition has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownStepType — тип шага не зарегистрирован.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrInvalidEdge — у ребра не задан source или target.
	ErrInvalidEdge = errors.New("edge has empty source or target")

	// ErrUnknownEdgeSource — ребро выходит из несуществующего узла.
	ErrUnknownEdgeSource = errors.New("edge source references unknown node")

	// ErrInvalidRetryPolicy — отрицательные значения в политике повторов.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrMissingTrigger — в определении нет trigger-узла.
	ErrMissingTrigger = errors.New("workflow has no trigger node")

	// ErrSchemaViolation — документ не соответствует JSON Schema определения.
	ErrSchemaViolation = errors.New("workflow definition violates schema")
)

// ErrRoutingAmbiguity — completeness присутствует, но ни одно ребро
// не подошло. Не фатальна: маршрутизация уходит на ребро по умолчанию.
var ErrRoutingAmbiguity = errors.New("routing ambiguity")

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
