package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultLockKey — ключ advisory lock лидера планировщика.
const DefaultLockKey int64 = 424242

// Leader — выбор единственного активного планировщика.
type Leader interface {
	// TryAcquire захватывает или подтверждает лидерство.
	TryAcquire(ctx context.Context) (bool, error)

	// Release отпускает лидерство.
	Release(ctx context.Context) error
}

// SoloLeader — процесс всегда лидер. Для хранилищ без PostgreSQL,
// где планировщик запускается в одном экземпляре.
type SoloLeader struct{}

func (SoloLeader) TryAcquire(context.Context) (bool, error) { return true, nil }
func (SoloLeader) Release(context.Context) error            { return nil }

// PGLeader держит сессионный pg_advisory_lock на выделенном соединении.
//
// Блокировка принадлежит сессии, поэтому соединение не возвращается
// в пул, пока процесс лидер. Потеря соединения означает потерю лидерства.
type PGLeader struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewPGLeader создаёт PGLeader. key == 0 — DefaultLockKey.
func NewPGLeader(pool *pgxpool.Pool, key int64) *PGLeader {
	if key == 0 {
		key = DefaultLockKey
	}
	return &PGLeader{pool: pool, key: key}
}

// TryAcquire реализует Leader.
func (l *PGLeader) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		// Сессия потеряна вместе с блокировкой
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release реализует Leader.
func (l *PGLeader) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	_, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key)
	l.conn.Release()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
