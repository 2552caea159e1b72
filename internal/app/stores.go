package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conduit/internal/config"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/repo/memory"
	"github.com/shaiso/Conduit/internal/repo/redisstore"
	"github.com/shaiso/Conduit/internal/repo/sqlite"
)

// Stores — хранилища процесса.
type Stores struct {
	Runs      repo.RunStore
	Tasks     repo.TaskStore
	Workflows repo.WorkflowStore
	Schedules repo.ScheduleStore

	// Pool — пул PostgreSQL (только для драйвера postgres).
	Pool *pgxpool.Pool

	closers []func() error
}

// OpenStores открывает хранилища выбранного драйвера.
// Для postgres применяется схема (repo.Migrate).
func OpenStores(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}

	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := repo.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		s.onClose(func() error { pool.Close(); return nil })

		if err := repo.Migrate(ctx, pool); err != nil {
			s.Close()
			return nil, err
		}

		s.Pool = pool
		s.Runs = repo.NewRunRepo(pool)
		s.Tasks = repo.NewTaskRepo(pool)
		s.Workflows = repo.NewWorkflowRepo(pool)
		s.Schedules = repo.NewScheduleRepo(pool)

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.onClose(db.Close)

		if err := s.openSQLite(ctx, db); err != nil {
			s.Close()
			return nil, err
		}
		s.inMemoryCatalog(logger, cfg.Driver)

	case config.DriverRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		s.onClose(client.Close)

		s.openRedis(client, cfg.RedisPrefix)
		s.inMemoryCatalog(logger, cfg.Driver)

	case config.DriverMemory:
		s.Runs = memory.NewRunStore()
		s.Tasks = memory.NewTaskStore()
		s.Workflows = memory.NewWorkflowStore()
		s.Schedules = memory.NewScheduleStore()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	logger.Info("store opened", "driver", cfg.Driver)
	return s, nil
}

func (s *Stores) openSQLite(ctx context.Context, db *sql.DB) error {
	runs, err := sqlite.NewRunStore(ctx, db)
	if err != nil {
		return err
	}
	tasks, err := sqlite.NewTaskStore(ctx, db)
	if err != nil {
		return err
	}
	s.Runs, s.Tasks = runs, tasks
	return nil
}

func (s *Stores) openRedis(client *redis.Client, prefix string) {
	s.Runs = redisstore.NewRunStore(client, prefix)
	s.Tasks = redisstore.NewTaskStore(client, prefix)
}

// inMemoryCatalog держит workflows и schedules в памяти для драйверов,
// которые хранят только runs и tasks.
func (s *Stores) inMemoryCatalog(logger *slog.Logger, driver string) {
	s.Workflows = memory.NewWorkflowStore()
	s.Schedules = memory.NewScheduleStore()
	logger.Warn("workflows and schedules are kept in memory", "driver", driver)
}

func (s *Stores) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close закрывает соединения в обратном порядке.
func (s *Stores) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}
