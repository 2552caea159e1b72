// Package sqlite — встраиваемое хранилище runs и tasks на SQLite
// (драйвер modernc.org/sqlite, без cgo).
//
// Предназначено для одиночного узла: оркестратор и воркеры одного
// процесса или нескольких процессов на одной машине. Run хранится
// JSON-документом; статус, аренда, флаг отмены и checkpoint вынесены
// в отдельные колонки, чтобы Claim, RenewLease и SaveCheckpoint
// меняли только их.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/repo"
)

var (
	_ repo.RunStore  = (*RunStore)(nil)
	_ repo.TaskStore = (*TaskStore)(nil)
)

// Open открывает базу SQLite по пути path (":memory:" — в памяти).
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = "conduit.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Одна БД в памяти живёт в одном соединении
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	workflow_id      TEXT,
	status           TEXT NOT NULL,
	idempotency_key  TEXT UNIQUE,
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	lease_owner      TEXT,
	lease_until      INTEGER,
	created_at       INTEGER NOT NULL,
	checkpoint       TEXT NOT NULL,
	data             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status, created_at);

CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	dedup_key  TEXT NOT NULL UNIQUE,
	seq        INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks (run_id, seq);
`

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Runs ---

// RunStore — RunStore поверх SQLite.
type RunStore struct {
	db *sql.DB
}

// NewRunStore создаёт схему и возвращает RunStore.
func NewRunStore(ctx context.Context, db *sql.DB) (*RunStore, error) {
	if err := initSchema(ctx, db); err != nil {
		return nil, err
	}
	return &RunStore{db: db}, nil
}

const runColumns = `status, cancel_requested, lease_owner, lease_until, checkpoint, data`

func (s *RunStore) Create(ctx context.Context, run *domain.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.UpdatedAt = time.Now()

	data, checkpoint, err := encodeRun(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, idempotency_key, cancel_requested,
		                  lease_owner, lease_until, created_at, checkpoint, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		workflowID(run),
		string(run.Status),
		nullString(run.IdempotencyKey),
		run.CancelRequested,
		nullString(run.LeaseOwner),
		leaseMillis(run.LeaseUntil),
		run.CreatedAt.UnixNano(),
		checkpoint,
		data,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: run %s", repo.ErrAlreadyExists, run.ID)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
}

func (s *RunStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	if key == "" {
		return nil, repo.ErrNotFound
	}
	return scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE idempotency_key = ?`, key))
}

func (s *RunStore) Update(ctx context.Context, run *domain.Run) error {
	run.UpdatedAt = time.Now()
	data, checkpoint, err := encodeRun(run)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, cancel_requested = cancel_requested OR ?,
		    lease_owner = ?, lease_until = ?, checkpoint = ?, data = ?
		WHERE id = ?`,
		string(run.Status),
		run.CancelRequested,
		nullString(run.LeaseOwner),
		leaseMillis(run.LeaseUntil),
		checkpoint,
		data,
		run.ID,
	)
	return affected(res, err, "update run")
}

func (s *RunStore) SaveCheckpoint(ctx context.Context, id string, cp domain.Checkpoint) error {
	checkpoint, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET checkpoint = ? WHERE id = ?`, string(checkpoint), id)
	return affected(res, err, "save checkpoint")
}

// Claim захватывает run одним условным UPDATE, затем дописывает
// время старта в документ в той же транзакции.
func (s *RunStore) Claim(ctx context.Context, id, owner string, now, until time.Time) (*domain.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET status = 'RUNNING', lease_owner = ?, lease_until = ?
		WHERE id = ?
		  AND (status = 'PENDING'
		       OR (status = 'RUNNING'
		           AND (lease_owner = ? OR lease_until IS NULL OR lease_until < ?)))`,
		owner, until.UnixMilli(), id, owner, now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, claimMiss(ctx, tx, id)
	}

	run, err := scanRun(tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	run.UpdatedAt = now

	data, _, err := encodeRun(run)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET data = ? WHERE id = ?`, data, id); err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return run, nil
}

func (s *RunStore) RenewLease(ctx context.Context, id, owner string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET lease_until = ?
		WHERE id = ? AND status = 'RUNNING' AND lease_owner = ?`,
		until.UnixMilli(), id, owner,
	)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return claimMiss(ctx, s.db, id)
	}
	return nil
}

func (s *RunStore) RequestCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET cancel_requested = 1
		WHERE id = ? AND status IN ('PENDING', 'RUNNING')`, id)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return fmt.Errorf("%w: run %s is %s", repo.ErrInvalidState, id, status)
}

func (s *RunStore) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, limit)
}

func (s *RunStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE status = 'RUNNING' AND (lease_until IS NULL OR lease_until < ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, now.UnixMilli(), limit)
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	filter = filter.Normalize()

	query := `SELECT ` + runColumns + ` FROM runs`
	var clauses []string
	var args []any
	if filter.WorkflowID != nil {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID.String())
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return s.queryRuns(ctx, query, args...)
}

func (s *RunStore) queryRuns(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
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

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func claimMiss(ctx context.Context, q queryer, id string) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return repo.ErrNotClaimed
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRun собирает Run из документа и колонок состояния.
// Колонки главнее документа: их меняют Claim, RenewLease и RequestCancel.
func scanRun(row scanner) (*domain.Run, error) {
	var status, checkpoint, data string
	var cancel bool
	var leaseOwner sql.NullString
	var leaseUntil sql.NullInt64

	err := row.Scan(&status, &cancel, &leaseOwner, &leaseUntil, &checkpoint, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	var run domain.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	run.Checkpoint = domain.Checkpoint{}
	if err := json.Unmarshal([]byte(checkpoint), &run.Checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.CancelRequested = cancel
	run.LeaseOwner = leaseOwner.String
	run.LeaseUntil = nil
	if leaseUntil.Valid {
		t := time.UnixMilli(leaseUntil.Int64)
		run.LeaseUntil = &t
	}
	return &run, nil
}

func encodeRun(run *domain.Run) (data, checkpoint string, err error) {
	doc, err := json.Marshal(run)
	if err != nil {
		return "", "", fmt.Errorf("marshal run: %w", err)
	}
	cp, err := json.Marshal(run.Checkpoint)
	if err != nil {
		return "", "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	return string(doc), string(cp), nil
}

func workflowID(run *domain.Run) any {
	if run.WorkflowID == nil {
		return nil
	}
	return run.WorkflowID.String()
}

func leaseMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func affected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// --- Tasks ---

// TaskStore — TaskStore поверх SQLite.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore создаёт схему и возвращает TaskStore.
func NewTaskStore(ctx context.Context, db *sql.DB) (*TaskStore, error) {
	if err := initSchema(ctx, db); err != nil {
		return nil, err
	}
	return &TaskStore{db: db}, nil
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, run_id, dedup_key, seq, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID.String(), task.RunID, task.DedupKey, task.Seq, task.CreatedAt.UnixNano(), string(data),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: task %s", repo.ErrAlreadyExists, task.DedupKey)
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id.String()))
}

func (s *TaskStore) GetByDedupKey(ctx context.Context, key string) (*domain.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE dedup_key = ?`, key))
}

func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET data = ? WHERE id = ?`, string(data), task.ID.String())
	return affected(res, err, "update task")
}

func (s *TaskStore) ListByRunID(ctx context.Context, runID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM tasks
		WHERE run_id = ?
		ORDER BY seq ASC, created_at ASC`, runID)
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

func scanTask(row scanner) (*domain.Task, error) {
	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}
