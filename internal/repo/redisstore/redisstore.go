// Package redisstore — хранилище runs и tasks на Redis (go-redis/v9).
//
// Структура ключей:
//
//	<prefix>run:<id>              => HASH: status, cancel, lease_owner, lease_until, created, checkpoint, data
//	<prefix>run:<id>:tasks        => ZSET id tasks по seq
//	<prefix>idem:<key>            => id run по ключу идемпотентности
//	<prefix>idx:all               => ZSET всех runs по времени создания
//	<prefix>idx:status:<status>   => ZSET runs в статусе по времени создания
//	<prefix>idx:lease             => ZSET RUNNING runs по сроку аренды
//	<prefix>task:<id>             => JSON task
//	<prefix>dedup:<key>           => id task по dedup key
//
// Переходы состояния run (создание, захват, продление, отмена,
// обновление) выполняются Lua-скриптами и атомарны. Скрипты строят
// ключи индексов из префикса, поэтому нужен одиночный Redis, не кластер.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/repo"
)

// DefaultPrefix — префикс ключей по умолчанию.
const DefaultPrefix = "conduit:"

var (
	_ repo.RunStore  = (*RunStore)(nil)
	_ repo.TaskStore = (*TaskStore)(nil)
)

// Connect подключается к Redis и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type keys struct {
	prefix string
}

func (k keys) run(id string) string             { return k.prefix + "run:" + id }
func (k keys) runTasks(id string) string        { return k.prefix + "run:" + id + ":tasks" }
func (k keys) idem(key string) string           { return k.prefix + "idem:" + key }
func (k keys) all() string                      { return k.prefix + "idx:all" }
func (k keys) status(s domain.RunStatus) string { return k.prefix + "idx:status:" + string(s) }
func (k keys) lease() string                    { return k.prefix + "idx:lease" }
func (k keys) task(id uuid.UUID) string         { return k.prefix + "task:" + id.String() }
func (k keys) dedup(key string) string          { return k.prefix + "dedup:" + key }

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keys{prefix: prefix}
}

var (
	// KEYS: run, idem, idx:all, idx:status:<status>, idx:lease
	// ARGV: id, status, cancel, lease_owner, lease_until, checkpoint, data, idem_key, created
	createRunScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if ARGV[8] ~= '' then
	if not redis.call('SET', KEYS[2], ARGV[1], 'NX') then return -1 end
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'cancel', ARGV[3], 'lease_owner', ARGV[4],
	'lease_until', ARGV[5], 'checkpoint', ARGV[6], 'data', ARGV[7], 'created', ARGV[9])
redis.call('ZADD', KEYS[3], ARGV[9], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[9], ARGV[1])
if ARGV[2] == 'RUNNING' and ARGV[5] ~= '' then
	redis.call('ZADD', KEYS[5], ARGV[5], ARGV[1])
end
return 1
`)

	// KEYS: run, idx:status:PENDING, idx:status:RUNNING, idx:lease
	// ARGV: id, owner, lease_until, now
	claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local f = redis.call('HMGET', KEYS[1], 'status', 'lease_owner', 'lease_until', 'created')
local until_ms = tonumber(f[3])
local ok = f[1] == 'PENDING'
if f[1] == 'RUNNING' and (f[2] == ARGV[2] or until_ms == nil or until_ms < tonumber(ARGV[4])) then
	ok = true
end
if not ok then return 0 end
redis.call('HSET', KEYS[1], 'status', 'RUNNING', 'lease_owner', ARGV[2], 'lease_until', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], f[4], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 1
`)

	// KEYS: run, idx:lease
	// ARGV: id, owner, lease_until
	renewScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local f = redis.call('HMGET', KEYS[1], 'status', 'lease_owner')
if f[1] ~= 'RUNNING' or f[2] ~= ARGV[2] then return 0 end
redis.call('HSET', KEYS[1], 'lease_until', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

	// KEYS: run
	cancelScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'PENDING' and status ~= 'RUNNING' then return 0 end
redis.call('HSET', KEYS[1], 'cancel', '1')
return 1
`)

	// KEYS: run, idx:lease
	// ARGV: id, status, cancel, lease_owner, lease_until, checkpoint, data, prefix
	updateRunScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local f = redis.call('HMGET', KEYS[1], 'status', 'created', 'cancel')
local cancel = ARGV[3]
if f[3] == '1' then cancel = '1' end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'cancel', cancel, 'lease_owner', ARGV[4],
	'lease_until', ARGV[5], 'checkpoint', ARGV[6], 'data', ARGV[7])
if f[1] ~= ARGV[2] then
	redis.call('ZREM', ARGV[8] .. 'idx:status:' .. f[1], ARGV[1])
	redis.call('ZADD', ARGV[8] .. 'idx:status:' .. ARGV[2], f[2], ARGV[1])
end
if ARGV[2] == 'RUNNING' and ARGV[5] ~= '' then
	redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
else
	redis.call('ZREM', KEYS[2], ARGV[1])
end
return 1
`)

	// KEYS: run
	// ARGV: checkpoint
	checkpointScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'checkpoint', ARGV[1])
return 1
`)

	// KEYS: dedup, task, run tasks
	// ARGV: task id, data, seq
	createTaskScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then return 0 end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)
)

// --- Runs ---

// RunStore — RunStore поверх Redis.
type RunStore struct {
	client *redis.Client
	keys   keys
}

// NewRunStore создаёт RunStore. Пустой prefix — DefaultPrefix.
func NewRunStore(client *redis.Client, prefix string) *RunStore {
	return &RunStore{client: client, keys: newKeys(prefix)}
}

func (s *RunStore) Create(ctx context.Context, run *domain.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.UpdatedAt = time.Now()

	fields, err := encodeRun(run)
	if err != nil {
		return err
	}

	res, err := createRunScript.Run(ctx, s.client,
		[]string{
			s.keys.run(run.ID),
			s.keys.idem(run.IdempotencyKey),
			s.keys.all(),
			s.keys.status(run.Status),
			s.keys.lease(),
		},
		run.ID, string(run.Status), fields.cancel, run.LeaseOwner, fields.leaseUntil,
		fields.checkpoint, fields.data, run.IdempotencyKey, run.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	switch res {
	case 0:
		return fmt.Errorf("%w: run %s", repo.ErrAlreadyExists, run.ID)
	case -1:
		return fmt.Errorf("%w: idempotency key %s", repo.ErrAlreadyExists, run.IdempotencyKey)
	}
	return nil
}

func (s *RunStore) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.run(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeRun(fields)
}

func (s *RunStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	if key == "" {
		return nil, repo.ErrNotFound
	}
	id, err := s.client.Get(ctx, s.keys.idem(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *RunStore) Update(ctx context.Context, run *domain.Run) error {
	run.UpdatedAt = time.Now()
	fields, err := encodeRun(run)
	if err != nil {
		return err
	}

	res, err := updateRunScript.Run(ctx, s.client,
		[]string{s.keys.run(run.ID), s.keys.lease()},
		run.ID, string(run.Status), fields.cancel, run.LeaseOwner, fields.leaseUntil,
		fields.checkpoint, fields.data, s.keys.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if res < 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) SaveCheckpoint(ctx context.Context, id string, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	res, err := checkpointScript.Run(ctx, s.client, []string{s.keys.run(id)}, string(data)).Int()
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if res == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) Claim(ctx context.Context, id, owner string, now, until time.Time) (*domain.Run, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{
			s.keys.run(id),
			s.keys.status(domain.RunStatusPending),
			s.keys.status(domain.RunStatusRunning),
			s.keys.lease(),
		},
		id, owner, until.UnixMilli(), now.UnixMilli(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	switch res {
	case -1:
		return nil, repo.ErrNotFound
	case 0:
		return nil, repo.ErrNotClaimed
	}

	run, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.StartedAt == nil {
		// Документ после захвата пишет только владелец аренды
		run.StartedAt = &now
		run.UpdatedAt = now
		data, err := json.Marshal(run)
		if err != nil {
			return nil, fmt.Errorf("marshal run: %w", err)
		}
		if err := s.client.HSet(ctx, s.keys.run(id), "data", string(data)).Err(); err != nil {
			return nil, fmt.Errorf("claim run: %w", err)
		}
	}
	return run, nil
}

func (s *RunStore) RenewLease(ctx context.Context, id, owner string, until time.Time) error {
	res, err := renewScript.Run(ctx, s.client,
		[]string{s.keys.run(id), s.keys.lease()},
		id, owner, until.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	switch res {
	case -1:
		return repo.ErrNotFound
	case 0:
		return repo.ErrNotClaimed
	}
	return nil
}

func (s *RunStore) RequestCancel(ctx context.Context, id string) error {
	res, err := cancelScript.Run(ctx, s.client, []string{s.keys.run(id)}).Int()
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	switch res {
	case -1:
		return repo.ErrNotFound
	case 0:
		return fmt.Errorf("%w: run %s is finished", repo.ErrInvalidState, id)
	}
	return nil
}

func (s *RunStore) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, s.keys.status(domain.RunStatusPending), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	return s.load(ctx, ids, func(r *domain.Run) bool { return r.Status == domain.RunStatusPending })
}

func (s *RunStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Run, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.lease(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired runs: %w", err)
	}
	return s.load(ctx, ids, func(r *domain.Run) bool {
		return r.Status == domain.RunStatusRunning && r.LeaseExpired(now)
	})
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	filter = filter.Normalize()

	index := s.keys.all()
	if filter.Status != "" {
		index = s.keys.status(filter.Status)
	}

	// Без фильтра по workflow страница берётся прямо из индекса
	if filter.WorkflowID == nil {
		ids, err := s.client.ZRevRange(ctx, index, int64(filter.Offset), int64(filter.Offset+filter.Limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		return s.load(ctx, ids, nil)
	}

	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := s.load(ctx, ids, func(r *domain.Run) bool {
		return r.WorkflowID != nil && *r.WorkflowID == *filter.WorkflowID
	})
	if err != nil {
		return nil, err
	}
	if filter.Offset >= len(runs) {
		return nil, nil
	}
	runs = runs[filter.Offset:]
	if len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// load читает runs по списку id одним pipeline, сохраняя порядок.
func (s *RunStore) load(ctx context.Context, ids []string, match func(*domain.Run) bool) ([]domain.Run, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.run(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load runs: %w", err)
	}

	var runs []domain.Run
	for _, cmd := range cmds {
		run, err := decodeRun(cmd.Val())
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if match == nil || match(run) {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

type runFields struct {
	cancel     string
	leaseUntil string
	checkpoint string
	data       string
}

func encodeRun(run *domain.Run) (runFields, error) {
	var f runFields

	data, err := json.Marshal(run)
	if err != nil {
		return f, fmt.Errorf("marshal run: %w", err)
	}
	cp, err := json.Marshal(run.Checkpoint)
	if err != nil {
		return f, fmt.Errorf("marshal checkpoint: %w", err)
	}

	f.data = string(data)
	f.checkpoint = string(cp)
	f.cancel = "0"
	if run.CancelRequested {
		f.cancel = "1"
	}
	if run.LeaseUntil != nil {
		f.leaseUntil = strconv.FormatInt(run.LeaseUntil.UnixMilli(), 10)
	}
	return f, nil
}

// decodeRun собирает Run из полей HASH. Поля состояния главнее документа.
func decodeRun(fields map[string]string) (*domain.Run, error) {
	if len(fields) == 0 {
		return nil, repo.ErrNotFound
	}

	var run domain.Run
	if err := json.Unmarshal([]byte(fields["data"]), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	run.Checkpoint = domain.Checkpoint{}
	if err := json.Unmarshal([]byte(fields["checkpoint"]), &run.Checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	run.Status = domain.RunStatus(fields["status"])
	run.CancelRequested = fields["cancel"] == "1"
	run.LeaseOwner = fields["lease_owner"]
	run.LeaseUntil = nil
	if ms, err := strconv.ParseInt(fields["lease_until"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		run.LeaseUntil = &t
	}
	return &run, nil
}

// --- Tasks ---

// TaskStore — TaskStore поверх Redis.
type TaskStore struct {
	client *redis.Client
	keys   keys
}

// NewTaskStore создаёт TaskStore. Пустой prefix — DefaultPrefix.
func NewTaskStore(client *redis.Client, prefix string) *TaskStore {
	return &TaskStore{client: client, keys: newKeys(prefix)}
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	res, err := createTaskScript.Run(ctx, s.client,
		[]string{s.keys.dedup(task.DedupKey), s.keys.task(task.ID), s.keys.runTasks(task.RunID)},
		task.ID.String(), string(data), task.Seq,
	).Int()
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("%w: task %s", repo.ErrAlreadyExists, task.DedupKey)
	}
	return nil
}

func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	data, err := s.client.Get(ctx, s.keys.task(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return decodeTask(data)
}

func (s *TaskStore) GetByDedupKey(ctx context.Context, key string) (*domain.Task, error) {
	id, err := s.client.Get(ctx, s.keys.dedup(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dedup key: %w", err)
	}
	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}
	return s.GetByID(ctx, taskID)
}

func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.keys.task(task.ID), string(data), 0).Result()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if !ok {
		return repo.ErrNotFound
	}
	return nil
}

func (s *TaskStore) ListByRunID(ctx context.Context, runID string) ([]domain.Task, error) {
	ids, err := s.client.ZRange(ctx, s.keys.runTasks(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	taskKeys := make([]string, len(ids))
	for i, id := range ids {
		taskKeys[i] = s.keys.prefix + "task:" + id
	}
	values, err := s.client.MGet(ctx, taskKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	tasks := make([]domain.Task, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		task, err := decodeTask([]byte(str))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

func decodeTask(data []byte) (*domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}
