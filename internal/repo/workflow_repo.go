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

var _ WorkflowStore = (*WorkflowRepo)(nil)

// WorkflowRepo — репозиторий для работы с workflows и workflow_versions.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// --- Workflow CRUD ---

// Create создаёт новый workflow. Имя уникально.
func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.Workflow) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workflows (id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4)
	`, wf.ID, wf.Name, wf.IsActive, wf.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: workflow %s", ErrAlreadyExists, wf.Name)
	}
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	return scanWorkflow(r.pool.QueryRow(ctx, `
		SELECT id, name, is_active, created_at FROM workflows WHERE id = $1
	`, id))
}

// GetByName возвращает workflow по имени.
func (r *WorkflowRepo) GetByName(ctx context.Context, name string) (*domain.Workflow, error) {
	return scanWorkflow(r.pool.QueryRow(ctx, `
		SELECT id, name, is_active, created_at FROM workflows WHERE name = $1
	`, name))
}

// List возвращает страницу workflows, новые первыми.
func (r *WorkflowRepo) List(ctx context.Context, limit, offset int) ([]domain.Workflow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, is_active, created_at
		FROM workflows
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// Update обновляет workflow.
func (r *WorkflowRepo) Update(ctx context.Context, wf *domain.Workflow) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE workflows SET name = $2, is_active = $3 WHERE id = $1
	`, wf.ID, wf.Name, wf.IsActive)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: workflow %s", ErrAlreadyExists, wf.Name)
	}
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет workflow (каскадно удалит versions и schedules).
func (r *WorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- WorkflowVersion ---

// CreateVersion создаёт новую версию workflow.
// Номер вычисляется в том же INSERT, гонку двух публикаций
// разрешает первичный ключ (workflow_id, version).
func (r *WorkflowRepo) CreateVersion(ctx context.Context, v *domain.WorkflowVersion) error {
	definitionJSON, err := json.Marshal(v.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO workflow_versions (workflow_id, version, definition, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, NOW()
		FROM workflow_versions
		WHERE workflow_id = $1
		RETURNING version, created_at
	`, v.WorkflowID, definitionJSON).Scan(&v.Version, &v.CreatedAt)
	if err != nil {
		var fkMissing bool
		if exists, checkErr := r.exists(ctx, v.WorkflowID); checkErr == nil {
			fkMissing = !exists
		}
		if fkMissing {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: version conflict for workflow %s", ErrAlreadyExists, v.WorkflowID)
		}
		return fmt.Errorf("insert workflow version: %w", err)
	}
	return nil
}

// GetVersion возвращает конкретную версию workflow.
func (r *WorkflowRepo) GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error) {
	return scanWorkflowVersion(r.pool.QueryRow(ctx, `
		SELECT workflow_id, version, definition, created_at
		FROM workflow_versions
		WHERE workflow_id = $1 AND version = $2
	`, workflowID, version))
}

// GetLatestVersion возвращает последнюю версию workflow.
func (r *WorkflowRepo) GetLatestVersion(ctx context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error) {
	return scanWorkflowVersion(r.pool.QueryRow(ctx, `
		SELECT workflow_id, version, definition, created_at
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, workflowID))
}

// ListVersions возвращает все версии workflow, новые первыми.
func (r *WorkflowRepo) ListVersions(ctx context.Context, workflowID uuid.UUID) ([]domain.WorkflowVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT workflow_id, version, definition, created_at
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version DESC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.WorkflowVersion
	for rows.Next() {
		v, err := scanWorkflowVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func (r *WorkflowRepo) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := row.Scan(&wf.ID, &wf.Name, &wf.IsActive, &wf.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	return &wf, nil
}

func scanWorkflowVersion(row pgx.Row) (*domain.WorkflowVersion, error) {
	var v domain.WorkflowVersion
	var definitionJSON []byte
	err := row.Scan(&v.WorkflowID, &v.Version, &definitionJSON, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow version: %w", err)
	}
	if err := json.Unmarshal(definitionJSON, &v.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &v, nil
}
