package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conduit/internal/domain"
)

var _ TaskStore = (*TaskRepo)(nil)

// TaskRepo — TaskStore поверх PostgreSQL. dedup_key уникален.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `
	id, run_id, node_id, step_type, seq, dedup_key, task_queue, attempt,
	status, input, outputs, error, started_at, finished_at, created_at`

// Create создаёт новый task.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	inputJSON, outputsJSON, err := encodeTaskData(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.pool.Exec(ctx, query,
		task.ID,
		task.RunID,
		task.NodeID,
		task.StepType,
		task.Seq,
		task.DedupKey,
		nullString(task.TaskQueue),
		task.Attempt,
		string(task.Status),
		inputJSON,
		outputsJSON,
		nullString(task.Error),
		task.StartedAt,
		task.FinishedAt,
		task.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: task %s", ErrAlreadyExists, task.DedupKey)
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// GetByDedupKey возвращает task по ключу идемпотентности.
func (r *TaskRepo) GetByDedupKey(ctx context.Context, key string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE dedup_key = $1`
	return scanTask(r.pool.QueryRow(ctx, query, key))
}

// Update обновляет task.
func (r *TaskRepo) Update(ctx context.Context, task *domain.Task) error {
	inputJSON, outputsJSON, err := encodeTaskData(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET attempt = $2, status = $3, input = $4, outputs = $5, error = $6,
		    task_queue = $7, started_at = $8, finished_at = $9
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Attempt,
		string(task.Status),
		inputJSON,
		outputsJSON,
		nullString(task.Error),
		nullString(task.TaskQueue),
		task.StartedAt,
		task.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByRunID возвращает все tasks для run в порядке выполнения.
func (r *TaskRepo) ListByRunID(ctx context.Context, runID string) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE run_id = $1
		ORDER BY seq ASC, created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func encodeTaskData(task *domain.Task) (input, outputs []byte, err error) {
	if task.Input != nil {
		if input, err = json.Marshal(task.Input); err != nil {
			return nil, nil, fmt.Errorf("marshal input: %w", err)
		}
	}
	if task.Outputs != nil {
		if outputs, err = json.Marshal(task.Outputs); err != nil {
			return nil, nil, fmt.Errorf("marshal outputs: %w", err)
		}
	}
	return input, outputs, nil
}

// scanTask сканирует одну строку в Task.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var status string
	var inputJSON, outputsJSON []byte
	var taskQueue, taskError *string

	err := row.Scan(
		&task.ID,
		&task.RunID,
		&task.NodeID,
		&task.StepType,
		&task.Seq,
		&task.DedupKey,
		&taskQueue,
		&task.Attempt,
		&status,
		&inputJSON,
		&outputsJSON,
		&taskError,
		&task.StartedAt,
		&task.FinishedAt,
		&task.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Status = domain.TaskStatus(status)
	task.TaskQueue = derefString(taskQueue)
	task.Error = derefString(taskError)

	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &task.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if outputsJSON != nil {
		if err := json.Unmarshal(outputsJSON, &task.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}

	return &task, nil
}
