package steps

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/jq"
)

const (
	// StepTypeTransform — тип шага трансформации.
	StepTypeTransform = "transform"

	// Ключи параметров.
	configMappings = "mappings"
	configInput    = "input"
)

// TransformStep — шаг трансформации данных.
//
// Вычисляет jq-выражения над input (или над всеми параметрами, если
// input не задан) и возвращает результаты под указанными ключами.
//
// Параметры:
//
//	{
//	    "input": {"items": [...]},
//	    "mappings": {
//	        "total": ".items | length",
//	        "first_id": ".items[0].id",
//	        "status": "if (.items | length) > 0 then \"found\" else \"empty\" end"
//	    }
//	}
//
// Outputs: результаты mappings. Если mappings не задают status,
// добавляется status "completed".
type TransformStep struct {
	jq *jq.Evaluator
}

// NewTransformStep создаёт новый TransformStep.
func NewTransformStep() *TransformStep {
	return &TransformStep{jq: jq.New()}
}

// Type возвращает тип шага.
func (s *TransformStep) Type() string {
	return StepTypeTransform
}

// Description возвращает описание шага.
func (s *TransformStep) Description() string {
	return "Reshape data with jq expressions"
}

// Execute выполняет трансформацию данных.
func (s *TransformStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	default:
	}

	mappings := s.parseMappings(req.Params)

	input, ok := req.Params[configInput]
	if !ok {
		input = map[string]any(req.Params)
	}

	outputs := make(domain.StepResult, len(mappings)+1)

	// Порядок ключей фиксирован, чтобы первая ошибка была воспроизводимой
	keys := make([]string, 0, len(mappings))
	for key := range mappings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val, err := s.jq.Evaluate(ctx, mappings[key], input)
		if err != nil {
			return nil, fmt.Errorf("%w: transform %s: %v", ErrInvalidConfig, key, err)
		}
		outputs[key] = val
	}

	if !outputs.Has(domain.FieldStatus) {
		outputs[domain.FieldStatus] = domain.ResultStatusCompleted
	}

	return NewResponse(outputs), nil
}

// parseMappings извлекает mappings из параметров.
func (s *TransformStep) parseMappings(config map[string]any) map[string]string {
	raw := config[configMappings]
	if raw == nil {
		return nil
	}

	switch m := raw.(type) {
	case map[string]string:
		return m

	case map[string]any:
		result := make(map[string]string, len(m))
		for key, val := range m {
			if str, ok := val.(string); ok {
				result[key] = str
			}
		}
		return result

	default:
		return nil
	}
}
