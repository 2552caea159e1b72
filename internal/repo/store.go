package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conduit/internal/domain"
)

// RunStore — хранилище runs и их checkpoint'ов.
//
// Реализации: RunRepo (PostgreSQL), sqlite.Store, redisstore.Store, memory.Store.
type RunStore interface {
	// Create создаёт run. Повторный ID — ErrAlreadyExists.
	Create(ctx context.Context, run *domain.Run) error

	// GetByID возвращает run или ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.Run, error)

	// GetByIdempotencyKey возвращает run по ключу идемпотентности или ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)

	// Update сохраняет статус, отчёт, ошибку, checkpoint и аренду run.
	Update(ctx context.Context, run *domain.Run) error

	// SaveCheckpoint сохраняет только checkpoint run.
	SaveCheckpoint(ctx context.Context, id string, cp domain.Checkpoint) error

	// Claim атомарно захватывает run для исполнения: PENDING run или
	// RUNNING run с истёкшей арендой переходит в RUNNING с новым владельцем.
	// Аренда считается истёкшей, если lease_until < now.
	// Если run занят или завершён — ErrNotClaimed.
	Claim(ctx context.Context, id, owner string, now, until time.Time) (*domain.Run, error)

	// RenewLease продлевает аренду. Если владелец сменился — ErrNotClaimed.
	RenewLease(ctx context.Context, id, owner string, until time.Time) error

	// RequestCancel выставляет флаг отмены у незавершённого run.
	// Для завершённого run — ErrInvalidState.
	RequestCancel(ctx context.Context, id string) error

	// ListPending возвращает PENDING runs в порядке создания.
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)

	// ListExpired возвращает RUNNING runs, у которых аренда истекла к now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Run, error)

	// List возвращает runs с фильтрацией, новые первыми.
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
}

// TaskStore — хранилище вызовов шагов.
type TaskStore interface {
	// Create создаёт task. Повторный DedupKey — ErrAlreadyExists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID возвращает task или ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetByDedupKey возвращает task по ключу идемпотентности или ErrNotFound.
	GetByDedupKey(ctx context.Context, key string) (*domain.Task, error)

	// Update сохраняет статус, попытку, результат и ошибку task.
	Update(ctx context.Context, task *domain.Task) error

	// ListByRunID возвращает tasks run в порядке создания.
	ListByRunID(ctx context.Context, runID string) ([]domain.Task, error)
}

// WorkflowStore — хранилище зарегистрированных workflows и их версий.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	GetByName(ctx context.Context, name string) (*domain.Workflow, error)
	List(ctx context.Context, limit, offset int) ([]domain.Workflow, error)
	Update(ctx context.Context, wf *domain.Workflow) error
	Delete(ctx context.Context, id uuid.UUID) error

	// CreateVersion сохраняет новую версию. Номер версии назначается
	// хранилищем (max + 1) и записывается в v.Version.
	CreateVersion(ctx context.Context, v *domain.WorkflowVersion) error
	GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error)
	GetLatestVersion(ctx context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error)
	ListVersions(ctx context.Context, workflowID uuid.UUID) ([]domain.WorkflowVersion, error)
}

// ScheduleStore — хранилище расписаний.
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, limit, offset int) ([]domain.Schedule, error)
	ListByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListDue возвращает включённые расписания, у которых next_due_at <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	WorkflowID *uuid.UUID
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

// Normalize подставляет лимит по умолчанию.
func (f RunFilter) Normalize() RunFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
