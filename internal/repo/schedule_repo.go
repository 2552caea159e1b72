package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conduit/internal/domain"
)

var _ ScheduleStore = (*ScheduleRepo)(nil)

// ScheduleRepo — ScheduleStore поверх PostgreSQL.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

const scheduleColumns = `
	id, workflow_id, name, cron_expr, interval_sec, timezone, task_queue,
	enabled, next_due_at, last_run_at, last_run_id, inputs, created_at, updated_at`

// Create создаёт новый schedule.
func (r *ScheduleRepo) Create(ctx context.Context, s *domain.Schedule) error {
	inputsJSON, err := marshalInputs(s.Inputs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.pool.Exec(ctx, query,
		s.ID,
		s.WorkflowID,
		nullString(s.Name),
		nullString(s.CronExpr),
		nullInt(s.IntervalSec),
		s.Timezone,
		nullString(s.TaskQueue),
		s.Enabled,
		s.NextDueAt,
		s.LastRunAt,
		nullString(s.LastRunID),
		inputsJSON,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: schedule %s", ErrAlreadyExists, s.ID)
	}
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID возвращает schedule по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`
	return scanSchedule(r.pool.QueryRow(ctx, query, id))
}

// List возвращает страницу расписаний в порядке создания.
func (r *ScheduleRepo) List(ctx context.Context, limit, offset int) ([]domain.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`
	return r.querySchedules(ctx, "list schedules", query, limit, offset)
}

// ListByWorkflowID возвращает расписания workflow.
func (r *ScheduleRepo) ListByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE workflow_id = $1
		ORDER BY created_at ASC
	`
	return r.querySchedules(ctx, "list schedules by workflow", query, workflowID)
}

// ListDue возвращает расписания, которые пора запускать.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE enabled = TRUE AND next_due_at IS NOT NULL AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	return r.querySchedules(ctx, "list due schedules", query, now, limit)
}

// Update обновляет schedule.
func (r *ScheduleRepo) Update(ctx context.Context, s *domain.Schedule) error {
	inputsJSON, err := marshalInputs(s.Inputs)
	if err != nil {
		return err
	}
	s.UpdatedAt = time.Now()

	query := `
		UPDATE schedules
		SET name = $2, cron_expr = $3, interval_sec = $4, timezone = $5,
		    task_queue = $6, enabled = $7, next_due_at = $8, last_run_at = $9,
		    last_run_id = $10, inputs = $11, updated_at = $12
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		s.ID,
		nullString(s.Name),
		nullString(s.CronExpr),
		nullInt(s.IntervalSec),
		s.Timezone,
		nullString(s.TaskQueue),
		s.Enabled,
		s.NextDueAt,
		s.LastRunAt,
		nullString(s.LastRunID),
		inputsJSON,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет schedule.
func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ScheduleRepo) querySchedules(ctx context.Context, op, query string, args ...any) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

func marshalInputs(inputs map[string]any) ([]byte, error) {
	if inputs == nil {
		return nil, nil
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}
	return data, nil
}

// scanSchedule сканирует одну строку в Schedule.
func scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var s domain.Schedule
	var name, cronExpr, taskQueue, lastRunID *string
	var intervalSec *int
	var inputsJSON []byte

	err := row.Scan(
		&s.ID,
		&s.WorkflowID,
		&name,
		&cronExpr,
		&intervalSec,
		&s.Timezone,
		&taskQueue,
		&s.Enabled,
		&s.NextDueAt,
		&s.LastRunAt,
		&lastRunID,
		&inputsJSON,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	s.Name = derefString(name)
	s.CronExpr = derefString(cronExpr)
	s.TaskQueue = derefString(taskQueue)
	s.LastRunID = derefString(lastRunID)
	if intervalSec != nil {
		s.IntervalSec = *intervalSec
	}
	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &s.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}

	return &s, nil
}
