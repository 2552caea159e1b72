package steps

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
)

// Policy — политика выполнения типа шага.
//
// Нулевые значения означают "использовать настройки по умолчанию"
// (retry.* и step.timeout из конфигурации).
type Policy struct {
	// Timeout — таймаут одной попытки.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Retry — политика повторов.
	Retry domain.RetryPolicy `json:"retry"`
}

// Merge накладывает ненулевые поля override поверх p.
func (p Policy) Merge(override Policy) Policy {
	if override.Timeout > 0 {
		p.Timeout = override.Timeout
	}
	if override.Retry.MaxAttempts > 0 {
		p.Retry.MaxAttempts = override.Retry.MaxAttempts
	}
	if override.Retry.Backoff != "" {
		p.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.InitialDelayMs > 0 {
		p.Retry.InitialDelayMs = override.Retry.InitialDelayMs
	}
	if override.Retry.MaxDelayMs > 0 {
		p.Retry.MaxDelayMs = override.Retry.MaxDelayMs
	}
	return p
}

// entry — зарегистрированный шаг с политикой.
type entry struct {
	step   Step
	policy Policy
}

// ActionInfo — описание типа шага для каталога действий.
type ActionInfo struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Policy      Policy `json:"policy"`
}

// Registry — реестр типов шагов.
//
// Заполняется при старте процесса и дальше только читается,
// поэтому один экземпляр разделяется всеми run'ами. Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]entry
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]entry),
	}
}

// DefaultRegistry создаёт реестр со всеми встроенными шагами.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()

	r.Register(NewLogStep(StepTypeLogWorkflowAction, logger))
	r.Register(NewLogStep(StepTypeLogActivity, logger))
	r.Register(NewHTTPStep())
	r.Register(NewTransformStep())
	r.Register(NewWaitStep())

	return r
}

// Register регистрирует шаг в реестре без собственной политики.
// Если шаг с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(step Step) {
	r.RegisterWithPolicy(step, Policy{})
}

// RegisterWithPolicy регистрирует шаг с собственной политикой выполнения.
func (r *Registry) RegisterWithPolicy(step Step, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Type()] = entry{step: step, policy: policy}
}

// Get возвращает шаг по типу.
// Возвращает ErrStepNotFound, если шаг не найден.
func (r *Registry) Get(stepType string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.steps[stepType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}

	return e.step, nil
}

// Policy возвращает собственную политику типа шага.
// Для незарегистрированного типа возвращает нулевую политику.
func (r *Registry) Policy(stepType string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.steps[stepType].policy
}

// Has проверяет, зарегистрирован ли шаг.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[stepType]
	return exists
}

// Types возвращает список всех зарегистрированных типов шагов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.steps))
	for t := range r.steps {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Catalog возвращает описания всех типов шагов, отсортированные по типу.
func (r *Registry) Catalog() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ActionInfo, 0, len(r.steps))
	for t, e := range r.steps {
		info := ActionInfo{Type: t, Policy: e.policy}
		if d, ok := e.step.(Describer); ok {
			info.Description = d.Description()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Count возвращает количество зарегистрированных шагов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Unregister удаляет шаг из реестра.
func (r *Registry) Unregister(stepType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.steps, stepType)
}
