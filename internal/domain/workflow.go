package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow — зарегистрированное определение рабочего процесса.
//
// Workflow — это "рецепт", который можно запускать многократно.
// Один workflow имеет множество неизменяемых версий (WorkflowVersion),
// каждый запуск (Run) фиксирует конкретное определение.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя workflow (например, "email-followup").
	Name string `json:"name"`

	// IsActive — неактивные workflows не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowVersion — версия workflow с конкретным определением графа.
type WorkflowVersion struct {
	// WorkflowID — ссылка на родительский workflow.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Definition — граф шагов.
	Definition WorkflowDefinition `json:"definition"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowDefinition — граф шагов, который исполняет Run.
//
// Неизменяем после отправки: первый узел в Nodes — точка входа,
// отдельного маркера "start" нет.
type WorkflowDefinition struct {
	// ID — идентификатор определения (используется как префикс run ID).
	ID string `json:"id,omitempty"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Description — описание назначения.
	Description string `json:"description,omitempty"`

	// Nodes — упорядоченный список узлов. Nodes[0] — точка входа.
	Nodes []Node `json:"nodes"`

	// Edges — рёбра графа в порядке объявления.
	// Порядок важен: при нескольких совпадениях побеждает первое ребро.
	Edges []Edge `json:"edges,omitempty"`

	// Config — настройки запуска (например, task_queue).
	Config map[string]any `json:"config,omitempty"`
}

// Node — узел графа.
type Node struct {
	// ID — уникальный идентификатор узла в рамках определения.
	ID string `json:"id"`

	// Type — имя типа шага в Step Registry.
	// Пустой тип — no-op узел, результат {status: skipped}.
	Type string `json:"type,omitempty"`

	// Label — человекочитаемое имя (по умолчанию совпадает с ID).
	Label string `json:"label,omitempty"`

	// Params — шаблон параметров. Никогда не изменяется на месте,
	// перед каждым вызовом копируется.
	Params Params `json:"params,omitempty"`

	// Next — устаревший формат связей: список ID следующих узлов.
	// Используется только если Edges пуст (см. engine.NormalizeEdges).
	Next []string `json:"next,omitempty"`

	// Retry — переопределение политики повторов для этого узла.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — переопределение таймаута одной попытки.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// DisplayLabel возвращает Label или ID, если Label не задан.
func (n *Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Edge — направленное ребро между узлами.
type Edge struct {
	// ID — идентификатор ребра.
	ID string `json:"id,omitempty"`

	// Source — ID узла-источника.
	Source string `json:"source"`

	// Target — ID целевого узла. Несуществующий target не является
	// ошибкой: run просто завершается.
	Target string `json:"target"`

	// Label — метка для условной маршрутизации. Пустая метка — ребро
	// по умолчанию.
	Label string `json:"label,omitempty"`
}

// TaskQueue возвращает task_queue из Config или пустую строку.
func (d *WorkflowDefinition) TaskQueue() string {
	if d.Config == nil {
		return ""
	}
	if q, ok := d.Config["task_queue"].(string); ok {
		return q
	}
	return ""
}

// RetryPolicy — политика повторных попыток шага.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`
}

// DefaultRetryPolicy возвращает политику по умолчанию:
// 3 попытки, exponential backoff от 1s до 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Backoff:        "exponential",
		InitialDelayMs: 1000,
		MaxDelayMs:     10000,
	}
}

// Типы шагов, которые движок обрабатывает сам, без Step Registry.
const (
	// StepTypeTrigger — маркер точки входа. Выполняется как no-op.
	StepTypeTrigger = "trigger"

	// StepTypeWait — ожидание заданной длительности (params: duration, unit).
	StepTypeWait = "wait_for_duration"
)

// Entry возвращает точку входа (первый узел).
func (d *WorkflowDefinition) Entry() (Node, bool) {
	if len(d.Nodes) == 0 {
		return Node{}, false
	}
	return d.Nodes[0], true
}

// HasTrigger проверяет, есть ли в определении trigger-узел.
func (d *WorkflowDefinition) HasTrigger() bool {
	for i := range d.Nodes {
		if d.Nodes[i].Type == StepTypeTrigger {
			return true
		}
	}
	return false
}
