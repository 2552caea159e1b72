// Package memory — хранилище в памяти процесса.
//
// Используется в тестах и в dev-режиме (store.driver=memory). Записи
// копируются через JSON при каждом чтении и записи, поэтому значения
// ведут себя так же, как после PostgreSQL/SQLite/Redis (числа из
// результатов шагов читаются как float64).
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/repo"
)

var (
	_ repo.RunStore      = (*RunStore)(nil)
	_ repo.TaskStore     = (*TaskStore)(nil)
	_ repo.WorkflowStore = (*WorkflowStore)(nil)
	_ repo.ScheduleStore = (*ScheduleStore)(nil)
)

// clone копирует значение через JSON.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory: marshal %T: %v", v, err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory: unmarshal %T: %v", v, err))
	}
	return &out
}

// --- Runs ---

// RunStore — runs в памяти.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.Run
}

// NewRunStore создаёт пустой RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*domain.Run)}
}

func (s *RunStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: run %s", repo.ErrAlreadyExists, run.ID)
	}
	if run.IdempotencyKey != "" {
		for _, existing := range s.runs {
			if existing.IdempotencyKey == run.IdempotencyKey {
				return fmt.Errorf("%w: idempotency key %s", repo.ErrAlreadyExists, run.IdempotencyKey)
			}
		}
	}
	s.runs[run.ID] = clone(run)
	return nil
}

func (s *RunStore) GetByID(_ context.Context, id string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(run), nil
}

func (s *RunStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		if key != "" && run.IdempotencyKey == key {
			return clone(run), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *RunStore) Update(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	updated := clone(run)
	// Флаг отмены выставляется в обход контроллера и не теряется при Update
	updated.CancelRequested = updated.CancelRequested || existing.CancelRequested
	updated.UpdatedAt = time.Now()
	s.runs[run.ID] = updated
	return nil
}

func (s *RunStore) SaveCheckpoint(_ context.Context, id string, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	run.Checkpoint = *clone(&cp)
	run.UpdatedAt = time.Now()
	return nil
}

func (s *RunStore) Claim(_ context.Context, id, owner string, now, until time.Time) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}

	switch {
	case run.Status == domain.RunStatusPending:
	case run.Status == domain.RunStatusRunning && (run.LeaseOwner == owner || run.LeaseExpired(now)):
	default:
		return nil, repo.ErrNotClaimed
	}

	run.MarkRunning()
	run.LeaseOwner = owner
	run.LeaseUntil = &until
	return clone(run), nil
}

func (s *RunStore) RenewLease(_ context.Context, id, owner string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if run.Status != domain.RunStatusRunning || run.LeaseOwner != owner {
		return repo.ErrNotClaimed
	}
	run.LeaseUntil = &until
	return nil
}

func (s *RunStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if run.IsFinished() {
		return fmt.Errorf("%w: run %s is %s", repo.ErrInvalidState, id, run.Status)
	}
	run.CancelRequested = true
	run.UpdatedAt = time.Now()
	return nil
}

func (s *RunStore) ListPending(_ context.Context, limit int) ([]domain.Run, error) {
	return s.collect(limit, true, func(r *domain.Run) bool {
		return r.Status == domain.RunStatusPending
	}), nil
}

func (s *RunStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Run, error) {
	return s.collect(limit, true, func(r *domain.Run) bool {
		return r.Status == domain.RunStatusRunning && r.LeaseExpired(now)
	}), nil
}

func (s *RunStore) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	filter = filter.Normalize()
	all := s.collect(0, false, func(r *domain.Run) bool {
		if filter.WorkflowID != nil && (r.WorkflowID == nil || *r.WorkflowID != *filter.WorkflowID) {
			return false
		}
		return filter.Status == "" || r.Status == filter.Status
	})
	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[filter.Offset:]
	if len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

// collect возвращает подходящие runs, отсортированные по времени создания.
func (s *RunStore) collect(limit int, oldestFirst bool, match func(*domain.Run) bool) []domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []domain.Run
	for _, run := range s.runs {
		if match(run) {
			runs = append(runs, *clone(run))
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		if oldestFirst {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

// --- Tasks ---

// TaskStore — tasks в памяти.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
	dedup map[string]uuid.UUID
}

// NewTaskStore создаёт пустой TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
		dedup: make(map[string]uuid.UUID),
	}
}

func (s *TaskStore) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dedup[task.DedupKey]; ok {
		return fmt.Errorf("%w: task %s", repo.ErrAlreadyExists, task.DedupKey)
	}
	s.tasks[task.ID] = clone(task)
	s.dedup[task.DedupKey] = task.ID
	return nil
}

func (s *TaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(task), nil
}

func (s *TaskStore) GetByDedupKey(_ context.Context, key string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.dedup[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(s.tasks[id]), nil
}

func (s *TaskStore) Update(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return repo.ErrNotFound
	}
	s.tasks[task.ID] = clone(task)
	return nil
}

func (s *TaskStore) ListByRunID(_ context.Context, runID string) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []domain.Task
	for _, task := range s.tasks {
		if task.RunID == runID {
			tasks = append(tasks, *clone(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Seq != tasks[j].Seq {
			return tasks[i].Seq < tasks[j].Seq
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// --- Workflows ---

// WorkflowStore — workflows и версии в памяти.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]*domain.Workflow
	versions  map[uuid.UUID][]*domain.WorkflowVersion
}

// NewWorkflowStore создаёт пустой WorkflowStore.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{
		workflows: make(map[uuid.UUID]*domain.Workflow),
		versions:  make(map[uuid.UUID][]*domain.WorkflowVersion),
	}
}

func (s *WorkflowStore) Create(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.workflows {
		if existing.ID == wf.ID || existing.Name == wf.Name {
			return fmt.Errorf("%w: workflow %s", repo.ErrAlreadyExists, wf.Name)
		}
	}
	s.workflows[wf.ID] = clone(wf)
	return nil
}

func (s *WorkflowStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(wf), nil
}

func (s *WorkflowStore) GetByName(_ context.Context, name string) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, wf := range s.workflows {
		if wf.Name == name {
			return clone(wf), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *WorkflowStore) List(_ context.Context, limit, offset int) ([]domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]domain.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		list = append(list, *clone(wf))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return page(list, limit, offset), nil
}

func (s *WorkflowStore) Update(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[wf.ID]; !ok {
		return repo.ErrNotFound
	}
	s.workflows[wf.ID] = clone(wf)
	return nil
}

func (s *WorkflowStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.workflows, id)
	delete(s.versions, id)
	return nil
}

func (s *WorkflowStore) CreateVersion(_ context.Context, v *domain.WorkflowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[v.WorkflowID]; !ok {
		return repo.ErrNotFound
	}
	v.Version = len(s.versions[v.WorkflowID]) + 1
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	s.versions[v.WorkflowID] = append(s.versions[v.WorkflowID], clone(v))
	return nil
}

func (s *WorkflowStore) GetVersion(_ context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[workflowID]
	if version < 1 || version > len(versions) {
		return nil, repo.ErrNotFound
	}
	return clone(versions[version-1]), nil
}

func (s *WorkflowStore) GetLatestVersion(_ context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[workflowID]
	if len(versions) == 0 {
		return nil, repo.ErrNotFound
	}
	return clone(versions[len(versions)-1]), nil
}

func (s *WorkflowStore) ListVersions(_ context.Context, workflowID uuid.UUID) ([]domain.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[workflowID]
	list := make([]domain.WorkflowVersion, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		list = append(list, *clone(versions[i]))
	}
	return list, nil
}

// --- Schedules ---

// ScheduleStore — расписания в памяти.
type ScheduleStore struct {
	mu        sync.RWMutex
	schedules map[uuid.UUID]*domain.Schedule
}

// NewScheduleStore создаёт пустой ScheduleStore.
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{schedules: make(map[uuid.UUID]*domain.Schedule)}
}

func (s *ScheduleStore) Create(_ context.Context, sch *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sch.ID]; ok {
		return fmt.Errorf("%w: schedule %s", repo.ErrAlreadyExists, sch.ID)
	}
	s.schedules[sch.ID] = clone(sch)
	return nil
}

func (s *ScheduleStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sch, ok := s.schedules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(sch), nil
}

func (s *ScheduleStore) List(_ context.Context, limit, offset int) ([]domain.Schedule, error) {
	list := s.filter(func(*domain.Schedule) bool { return true })
	return page(list, limit, offset), nil
}

func (s *ScheduleStore) ListByWorkflowID(_ context.Context, workflowID uuid.UUID) ([]domain.Schedule, error) {
	return s.filter(func(sch *domain.Schedule) bool { return sch.WorkflowID == workflowID }), nil
}

func (s *ScheduleStore) Update(_ context.Context, sch *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sch.ID]; !ok {
		return repo.ErrNotFound
	}
	s.schedules[sch.ID] = clone(sch)
	return nil
}

func (s *ScheduleStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *ScheduleStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	due := s.filter(func(sch *domain.Schedule) bool { return sch.IsDue(now) })
	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt.Before(*due[j].NextDueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *ScheduleStore) filter(match func(*domain.Schedule) bool) []domain.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []domain.Schedule
	for _, sch := range s.schedules {
		if match(sch) {
			list = append(list, *clone(sch))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

func page[T any](list []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
