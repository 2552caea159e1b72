package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conduit/internal/domain"
)

var _ RunStore = (*RunRepo)(nil)

// RunRepo — RunStore поверх PostgreSQL.
//
// Определение, входные данные, checkpoint и отчёт хранятся в JSONB.
// Захват и продление аренды выполняются одним UPDATE с условием,
// поэтому два оркестратора не могут исполнять один run одновременно.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `
	id, workflow_id, version, definition, task_queue, status, inputs,
	checkpoint, report, error, cancel_requested, idempotency_key,
	lease_owner, lease_until, started_at, finished_at, created_at, updated_at`

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}

	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.WorkflowID,
		run.Version,
		enc.definition,
		run.TaskQueue,
		string(run.Status),
		enc.inputs,
		enc.checkpoint,
		enc.report,
		nullString(run.Error),
		run.CancelRequested,
		nullString(run.IdempotencyKey),
		nullString(run.LeaseOwner),
		run.LeaseUntil,
		run.StartedAt,
		run.FinishedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: run %s", ErrAlreadyExists, run.ID)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE idempotency_key = $1`
	return scanRun(r.pool.QueryRow(ctx, query, key))
}

// Update сохраняет состояние run. Флаг отмены только добавляется:
// запрос отмены, пришедший параллельно, не затирается.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}
	run.UpdatedAt = time.Now()

	query := `
		UPDATE runs
		SET status = $2, checkpoint = $3, report = $4, error = $5,
		    cancel_requested = cancel_requested OR $6,
		    lease_owner = $7, lease_until = $8,
		    started_at = $9, finished_at = $10, updated_at = $11
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		string(run.Status),
		enc.checkpoint,
		enc.report,
		nullString(run.Error),
		run.CancelRequested,
		nullString(run.LeaseOwner),
		run.LeaseUntil,
		run.StartedAt,
		run.FinishedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveCheckpoint сохраняет только checkpoint.
func (r *RunRepo) SaveCheckpoint(ctx context.Context, id string, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	result, err := r.pool.Exec(ctx,
		`UPDATE runs SET checkpoint = $2, updated_at = NOW() WHERE id = $1`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim захватывает run для исполнения владельцем owner до until.
func (r *RunRepo) Claim(ctx context.Context, id, owner string, now, until time.Time) (*domain.Run, error) {
	query := `
		UPDATE runs
		SET status = 'RUNNING',
		    lease_owner = $2,
		    lease_until = $3,
		    started_at = COALESCE(started_at, $4),
		    updated_at = $4
		WHERE id = $1
		  AND (status = 'PENDING'
		       OR (status = 'RUNNING'
		           AND (lease_owner = $2 OR lease_until IS NULL OR lease_until < $4)))
		RETURNING ` + runColumns

	run, err := scanRun(r.pool.QueryRow(ctx, query, id, owner, until, now))
	if errors.Is(err, ErrNotFound) {
		return nil, r.claimMiss(ctx, id)
	}
	return run, err
}

// RenewLease продлевает аренду, если run всё ещё принадлежит owner.
func (r *RunRepo) RenewLease(ctx context.Context, id, owner string, until time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET lease_until = $3
		WHERE id = $1 AND status = 'RUNNING' AND lease_owner = $2
	`, id, owner, until)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.claimMiss(ctx, id)
	}
	return nil
}

// claimMiss различает отсутствующий run и run, занятый другим владельцем.
func (r *RunRepo) claimMiss(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotClaimed
}

// RequestCancel выставляет флаг отмены у незавершённого run.
func (r *RunRepo) RequestCancel(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `
		WITH target AS (SELECT id, status FROM runs WHERE id = $1),
		updated AS (
			UPDATE runs SET cancel_requested = TRUE, updated_at = NOW()
			WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
			RETURNING id
		)
		SELECT target.status FROM target
	`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if domain.RunStatus(status).IsTerminal() {
		return fmt.Errorf("%w: run %s is %s", ErrInvalidState, id, status)
	}
	return nil
}

// ListPending возвращает runs в статусе PENDING.
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.queryRuns(ctx, "list pending runs", query, limit)
}

// ListExpired возвращает RUNNING runs с истёкшей арендой.
func (r *RunRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'RUNNING' AND (lease_until IS NULL OR lease_until < $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	return r.queryRuns(ctx, "list expired runs", query, now, limit)
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	filter = filter.Normalize()
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::uuid IS NULL OR workflow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.queryRuns(ctx, "list runs", query,
		filter.WorkflowID,
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
}

func (r *RunRepo) queryRuns(ctx context.Context, op, query string, args ...any) ([]domain.Run, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

type encodedRun struct {
	definition []byte
	inputs     []byte
	checkpoint []byte
	report     []byte
}

func encodeRun(run *domain.Run) (encodedRun, error) {
	var enc encodedRun
	var err error

	if enc.definition, err = json.Marshal(run.Definition); err != nil {
		return enc, fmt.Errorf("marshal definition: %w", err)
	}
	if run.Inputs != nil {
		if enc.inputs, err = json.Marshal(run.Inputs); err != nil {
			return enc, fmt.Errorf("marshal inputs: %w", err)
		}
	}
	if enc.checkpoint, err = json.Marshal(run.Checkpoint); err != nil {
		return enc, fmt.Errorf("marshal checkpoint: %w", err)
	}
	if run.Report != nil {
		if enc.report, err = json.Marshal(run.Report); err != nil {
			return enc, fmt.Errorf("marshal report: %w", err)
		}
	}
	return enc, nil
}

// scanRun сканирует одну строку в Run. Подходит и для pgx.Row, и для pgx.Rows.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var status string
	var definitionJSON, inputsJSON, checkpointJSON, reportJSON []byte
	var runError, idempotencyKey, leaseOwner *string

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.Version,
		&definitionJSON,
		&run.TaskQueue,
		&status,
		&inputsJSON,
		&checkpointJSON,
		&reportJSON,
		&runError,
		&run.CancelRequested,
		&idempotencyKey,
		&leaseOwner,
		&run.LeaseUntil,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.Error = derefString(runError)
	run.IdempotencyKey = derefString(idempotencyKey)
	run.LeaseOwner = derefString(leaseOwner)

	if err := json.Unmarshal(definitionJSON, &run.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if err := json.Unmarshal(checkpointJSON, &run.Checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &run.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if reportJSON != nil {
		if err := json.Unmarshal(reportJSON, &run.Report); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
	}

	return &run, nil
}
