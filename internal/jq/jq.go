// Package jq вычисляет jq-выражения над JSON-подобными значениями.
//
// Используется шагом transform и командой CLI "run state --jq".
// Скомпилированные выражения кэшируются, Evaluator безопасен для
// конкурентного использования.
package jq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"
)

// Ошибки вычисления.
var (
	// ErrEmptyExpression — пустое выражение.
	ErrEmptyExpression = errors.New("empty jq expression")

	// ErrParse — выражение не разбирается.
	ErrParse = errors.New("jq parse error")

	// ErrEval — ошибка во время вычисления.
	ErrEval = errors.New("jq evaluation failed")
)

// Evaluator вычисляет jq-выражения с кэшем скомпилированного кода.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// New создаёт Evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*gojq.Code),
	}
}

// Evaluate вычисляет выражение над data.
//
// Один результат возвращается как есть, несколько — срезом []any,
// отсутствие результатов — nil.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, data any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll вычисляет выражение и всегда возвращает срез результатов.
func (e *Evaluator) EvaluateAll(ctx context.Context, expression string, data any) ([]any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, Normalize(data))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, fmt.Errorf("%w: %q: %v", ErrEval, expression, err)
		}
		results = append(results, val)
	}

	return results, nil
}

// getOrCompile возвращает закэшированный код или компилирует новый.
func (e *Evaluator) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrParse, expression, err)
	}

	// Пустое окружение: $ENV недоступен выражениям
	code, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrParse, expression, err)
	}

	e.cache[expression] = code
	return code, nil
}

// Normalize приводит значение к типам, которые понимает gojq:
// именованные map-типы превращаются в map[string]any, целые числа в float64.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		if m, ok := asMap(v); ok {
			return normalizeMap(m)
		}
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, item := range m {
		out[k] = Normalize(item)
	}
	return out
}
