package runner

import (
	"sync"

	"github.com/shaiso/Conduit/internal/domain"
)

// ExecutionState — накопленные результаты одного run.
//
// Принадлежит контроллеру run. Чтение из других горутин (запрос
// состояния) идёт через Snapshot, который возвращает глубокую копию.
type ExecutionState struct {
	mu            sync.RWMutex
	nodeResults   map[string]domain.StepResult
	executionPath []string
}

// Snapshot — копия ExecutionState для внешнего запроса.
type Snapshot struct {
	NodeResults   map[string]domain.StepResult `json:"nodeResults"`
	ExecutionPath []string                     `json:"executionPath"`
}

// NewExecutionState создаёт пустое состояние.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		nodeResults:   make(map[string]domain.StepResult),
		executionPath: make([]string, 0),
	}
}

// restoreState восстанавливает состояние из checkpoint.
func restoreState(cp domain.Checkpoint) *ExecutionState {
	s := NewExecutionState()
	for id, result := range cp.NodeResults {
		s.nodeResults[id] = result.Clone()
	}
	s.executionPath = append(s.executionPath, cp.ExecutionPath...)
	return s
}

// Record добавляет узел в путь и сохраняет его результат.
// При повторном посещении узла результат перезаписывается,
// а путь сохраняет каждое посещение.
func (s *ExecutionState) Record(nodeID string, result domain.StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodeResults[nodeID] = result.Clone()
	s.executionPath = append(s.executionPath, nodeID)
}

// Result возвращает последний результат узла.
func (s *ExecutionState) Result(nodeID string) (domain.StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.nodeResults[nodeID]
	return result, ok
}

// Last возвращает последний выполненный узел и его результат.
func (s *ExecutionState) Last() (string, domain.StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.executionPath) == 0 {
		return "", nil, false
	}
	id := s.executionPath[len(s.executionPath)-1]
	return id, s.nodeResults[id], true
}

// Len возвращает длину пути выполнения.
func (s *ExecutionState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executionPath)
}

// Snapshot возвращает глубокую копию состояния.
func (s *ExecutionState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		NodeResults:   make(map[string]domain.StepResult, len(s.nodeResults)),
		ExecutionPath: make([]string, len(s.executionPath)),
	}
	for id, result := range s.nodeResults {
		snap.NodeResults[id] = result.Clone()
	}
	copy(snap.ExecutionPath, s.executionPath)
	return snap
}

// checkpoint переносит состояние в domain.Checkpoint.
func (s *ExecutionState) checkpoint(current string, steps int) domain.Checkpoint {
	snap := s.Snapshot()
	return domain.Checkpoint{
		CurrentNode:   current,
		NodeResults:   snap.NodeResults,
		ExecutionPath: snap.ExecutionPath,
		Steps:         steps,
	}
}
