package steps

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидные параметры шага.
	ErrInvalidConfig = errors.New("invalid step params")

	// ErrStepTimeout — шаг превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")
)

// Step — реализация типа шага.
//
// Движок ничего не знает о том, что делает шаг: он передаёт параметры
// и сохраняет результат. Шаг должен быть идемпотентным либо использовать
// Request.DedupKey для дедупликации побочных эффектов, потому что после
// рестарта вызов может повториться.
type Step interface {
	// Type возвращает тип шага.
	Type() string

	// Execute выполняет шаг и возвращает результат.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Describer — опциональное описание шага для каталога действий.
type Describer interface {
	Description() string
}

// Request — входные данные для выполнения шага.
type Request struct {
	// RunID — run, в рамках которого вызывается шаг.
	RunID string

	// NodeID — узел графа.
	NodeID string

	// DedupKey — стабильный ключ вызова, одинаковый для всех попыток.
	DedupKey string

	// Attempt — номер попытки (начиная с 1).
	Attempt int

	// Params — эффективные параметры после связывания.
	Params domain.Params

	// Timeout — таймаут попытки. Если 0, шаг использует свой по умолчанию.
	Timeout time.Duration
}

// Response — результат выполнения шага.
type Response struct {
	// Outputs — результат шага. Поля status, completeness и isGibberish
	// влияют на маршрутизацию.
	Outputs domain.StepResult
}

// NewRequest создаёт новый Request.
func NewRequest(nodeID string, params domain.Params, timeout time.Duration) *Request {
	if params == nil {
		params = domain.Params{}
	}
	return &Request{
		NodeID:  nodeID,
		Params:  params,
		Attempt: 1,
		Timeout: timeout,
	}
}

// NewResponse создаёт новый Response с outputs.
func NewResponse(outputs domain.StepResult) *Response {
	if outputs == nil {
		outputs = domain.StepResult{}
	}
	return &Response{
		Outputs: outputs,
	}
}

// FuncStep — шаг на основе функции. Удобен для подключения
// внешних реализаций без отдельного типа.
type FuncStep struct {
	stepType    string
	description string
	fn          func(ctx context.Context, req *Request) (domain.StepResult, error)
}

// NewFuncStep создаёт шаг из функции.
func NewFuncStep(stepType string, fn func(ctx context.Context, req *Request) (domain.StepResult, error)) *FuncStep {
	return &FuncStep{stepType: stepType, fn: fn}
}

// WithDescription задаёт описание для каталога.
func (s *FuncStep) WithDescription(d string) *FuncStep {
	s.description = d
	return s
}

// Type возвращает тип шага.
func (s *FuncStep) Type() string {
	return s.stepType
}

// Description возвращает описание шага.
func (s *FuncStep) Description() string {
	return s.description
}

// Execute вызывает функцию шага.
func (s *FuncStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	out, err := s.fn(ctx, req)
	if err != nil {
		return nil, err
	}
	return NewResponse(out), nil
}

// GetConfigString извлекает строковое значение из параметров.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из параметров.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigBool извлекает булево значение из параметров.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigMap извлекает map из параметров.
func GetConfigMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			return m
		case domain.Params:
			return m
		case domain.StepResult:
			return m
		}
	}
	return nil
}

// GetConfigMapString извлекает map[string]string из параметров.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
