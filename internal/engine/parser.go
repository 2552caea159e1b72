package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Conduit/internal/domain"
)

// ValidateOptions — настройки валидации определения.
type ValidateOptions struct {
	// IsKnownType проверяет тип шага по Step Registry.
	// nil — типы не проверяются (шаги исполняются удалёнными воркерами).
	IsKnownType func(stepType string) bool

	// RequireTrigger — требовать наличие trigger-узла.
	RequireTrigger bool
}

// Parse разбирает WorkflowDefinition из JSON и валидирует его.
func Parse(data []byte, opts ValidateOptions) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}

	normalized := NormalizeEdges(&def)
	if err := Validate(normalized, opts); err != nil {
		return nil, err
	}

	return normalized, nil
}

// Validate выполняет структурную валидацию определения.
//
// Проверяет:
//   - наличие узлов
//   - уникальность и непустоту ID узлов
//   - известность типов шагов (если задан IsKnownType)
//   - source/target у рёбер
//   - политики повторов
//
// Висячий target ребра ошибкой не считается: при переходе на него
// run просто завершается.
func Validate(def *domain.WorkflowDefinition, opts ValidateOptions) error {
	if def == nil || len(def.Nodes) == 0 {
		return ErrMalformedGraph
	}

	def = NormalizeEdges(def)
	nodeIDs := make(map[string]bool, len(def.Nodes))

	for i := range def.Nodes {
		if err := ValidateNode(&def.Nodes[i], nodeIDs, opts); err != nil {
			return err
		}
	}

	if err := validateEdges(def.Edges, nodeIDs); err != nil {
		return err
	}

	if opts.RequireTrigger && !def.HasTrigger() {
		return NewValidationError("", "nodes",
			"workflow must contain a trigger node", ErrMissingTrigger)
	}

	return nil
}

// ValidateNode валидирует один узел.
// nodeIDs — уже встреченные ID узлов (для проверки уникальности).
func ValidateNode(node *domain.Node, nodeIDs map[string]bool, opts ValidateOptions) error {
	if node.ID == "" {
		return NewValidationError("", "id", "node has empty ID", ErrEmptyNodeID)
	}

	if nodeIDs[node.ID] {
		return NewValidationError(node.ID, "id",
			fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID)
	}
	nodeIDs[node.ID] = true

	if err := validateStepType(node.ID, node.Type, opts.IsKnownType); err != nil {
		return err
	}

	if node.TimeoutSec < 0 {
		return NewValidationError(node.ID, "timeout_sec",
			"timeout must not be negative", ErrInvalidRetryPolicy)
	}

	if p := node.Retry; p != nil {
		if p.MaxAttempts < 0 || p.InitialDelayMs < 0 || p.MaxDelayMs < 0 {
			return NewValidationError(node.ID, "retry",
				"retry policy values must not be negative", ErrInvalidRetryPolicy)
		}
		if p.Backoff != "" && p.Backoff != "fixed" && p.Backoff != "exponential" {
			return NewValidationError(node.ID, "retry",
				fmt.Sprintf("unknown backoff: %s", p.Backoff), ErrInvalidRetryPolicy)
		}
	}

	return nil
}

// validateStepType проверяет, что тип шага известен.
// Пустой тип, trigger и wait обрабатываются контроллером.
func validateStepType(nodeID, stepType string, isKnown func(string) bool) error {
	if IsBuiltinStepType(stepType) || isKnown == nil {
		return nil
	}

	if !isKnown(stepType) {
		return NewValidationError(nodeID, "type",
			fmt.Sprintf("unknown step type: %s", stepType), ErrUnknownStepType)
	}

	return nil
}

// validateEdges проверяет, что у каждого ребра есть source и target,
// а source ссылается на существующий узел.
func validateEdges(edges []domain.Edge, nodeIDs map[string]bool) error {
	for i, e := range edges {
		if e.Source == "" || e.Target == "" {
			return NewValidationError("", "edges",
				fmt.Sprintf("edge %d (%s) has empty source or target", i, e.ID), ErrInvalidEdge)
		}
		if !nodeIDs[e.Source] {
			return NewValidationError(e.Source, "edges",
				fmt.Sprintf("edge %s starts at unknown node", e.ID), ErrUnknownEdgeSource)
		}
	}
	return nil
}

// IsBuiltinStepType проверяет, обрабатывается ли тип шага самим контроллером.
func IsBuiltinStepType(stepType string) bool {
	switch stepType {
	case "", domain.StepTypeTrigger, domain.StepTypeWait:
		return true
	default:
		return false
	}
}
