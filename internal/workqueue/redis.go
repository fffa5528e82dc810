package workqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell/internal/services"
)

// RedisQueue implements Queue on Redis.
//
// Keys, relative to the configured prefix:
//
//	<prefix>:unit:<id>           hash holding the unit
//	<prefix>:ready:<queue>       sorted set of pending ids scored by not_before (ms)
//	<prefix>:leased:<queue>      sorted set of leased ids scored by lease expiry (ms)
//	<prefix>:live:<queue>:<book> set of pending or leased ids per book
//	<prefix>:dedupe:<key>        id of the live unit holding a dedupe key
//	<prefix>:count:<queue>:<st>  done/failed counters
type RedisQueue struct {
	client     *redis.Client
	prefix     string
	now        func() time.Time
	maxDefault int
	retention  time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// unitRecord is the hash layout of a stored unit.
type unitRecord struct {
	ID          string `redis:"id"`
	Queue       string `redis:"queue"`
	Operation   string `redis:"operation"`
	BookID      int64  `redis:"book_id"`
	EntityID    int64  `redis:"entity_id"`
	Payload     string `redis:"payload"`
	Attempts    int    `redis:"attempts"`
	MaxAttempts int    `redis:"max_attempts"`
	NotBefore   int64  `redis:"not_before"`
	LeaseUntil  int64  `redis:"lease_until"`
	LastError   string `redis:"last_error"`
	Status      string `redis:"status"`
	DedupeKey   string `redis:"dedupe_key"`
	CreatedAt   int64  `redis:"created_at"`
	UpdatedAt   int64  `redis:"updated_at"`
}

func recordFromUnit(u Unit) unitRecord {
	rec := unitRecord{
		ID:          u.ID,
		Queue:       u.Queue,
		Operation:   u.Operation,
		BookID:      u.BookID,
		EntityID:    u.EntityID,
		Payload:     string(u.Payload),
		Attempts:    u.Attempts,
		MaxAttempts: u.MaxAttempts,
		NotBefore:   u.NotBefore.UnixMilli(),
		LastError:   u.LastError,
		Status:      string(u.Status),
		DedupeKey:   u.DedupeKey,
		CreatedAt:   u.CreatedAt.UnixMilli(),
		UpdatedAt:   u.UpdatedAt.UnixMilli(),
	}
	if u.LeaseUntil != nil {
		rec.LeaseUntil = u.LeaseUntil.UnixMilli()
	}
	return rec
}

// fields flattens the record into HSET arguments.
func (r unitRecord) fields() []any {
	return []any{
		"id", r.ID,
		"queue", r.Queue,
		"operation", r.Operation,
		"book_id", r.BookID,
		"entity_id", r.EntityID,
		"payload", r.Payload,
		"attempts", r.Attempts,
		"max_attempts", r.MaxAttempts,
		"not_before", r.NotBefore,
		"lease_until", r.LeaseUntil,
		"last_error", r.LastError,
		"status", r.Status,
		"dedupe_key", r.DedupeKey,
		"created_at", r.CreatedAt,
		"updated_at", r.UpdatedAt,
	}
}

func (r unitRecord) unit() *Unit {
	u := &Unit{
		ID:          r.ID,
		Queue:       r.Queue,
		Operation:   r.Operation,
		BookID:      r.BookID,
		EntityID:    r.EntityID,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		NotBefore:   time.UnixMilli(r.NotBefore).UTC(),
		LastError:   r.LastError,
		Status:      Status(r.Status),
		DedupeKey:   r.DedupeKey,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.Payload != "" {
		u.Payload = []byte(r.Payload)
	}
	if r.LeaseUntil > 0 {
		t := time.UnixMilli(r.LeaseUntil).UTC()
		u.LeaseUntil = &t
	}
	return u
}

// claimScript moves the earliest eligible id from the ready set to the
// leased set and records the lease on the unit hash. Returns the id or false.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
local unit = ARGV[3] .. id
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HINCRBY', unit, 'attempts', 1)
redis.call('HSET', unit, 'status', 'leased', 'lease_until', ARGV[2], 'updated_at', ARGV[1])
return id
`)

// enqueueScript stores a unit unless a live unit already holds its dedupe
// key. A key left behind by a finished unit is taken over. Returns the id
// of the unit holding the key afterwards.
//
// KEYS: unit hash, ready set, live set, queues set, dedupe key.
// ARGV: id, unit key prefix, not_before ms, queue, has dedupe, hash fields...
var enqueueScript = redis.NewScript(`
if ARGV[5] == '1' then
	local holder = redis.call('GET', KEYS[5])
	if holder and holder ~= ARGV[1] then
		local status = redis.call('HGET', ARGV[2] .. holder, 'status')
		if status == 'pending' or status == 'leased' then
			return holder
		end
	end
	redis.call('SET', KEYS[5], ARGV[1])
end
redis.call('HSET', KEYS[1], unpack(ARGV, 6))
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[4])
return ARGV[1]
`)

// settleScript ends a lease. Modes "done" and "failed" retire the unit and
// "retry" puts it back on the ready set. "reclaim" picks one of the two from
// the attempt count, and only while the lease is still expired.
// Returns the resulting status, or "missing", "not_leased" or "live".
//
// KEYS: unit hash.
// ARGV: key prefix, id, mode, now ms, last error, not_before ms, retention s.
var settleScript = redis.NewScript(`
local prefix, id, mode, now = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
local lastErr, notBefore = ARGV[5], ARGV[6]
local u = redis.call('HMGET', KEYS[1], 'status', 'queue', 'book_id', 'dedupe_key', 'attempts', 'max_attempts')
if not u[1] then
	return 'missing'
end
if u[1] ~= 'leased' then
	return 'not_leased'
end
local leased = prefix .. ':leased:' .. u[2]
if mode == 'reclaim' then
	local score = redis.call('ZSCORE', leased, id)
	if score and tonumber(score) >= tonumber(now) then
		return 'live'
	end
	if tonumber(u[5] or '0') >= tonumber(u[6] or '0') then
		mode, lastErr = 'failed', 'lease expired on final attempt'
	else
		mode, lastErr, notBefore = 'retry', 'lease expired', now
	end
end
redis.call('ZREM', leased, id)
if mode == 'retry' then
	redis.call('HSET', KEYS[1], 'status', 'pending', 'lease_until', 0, 'not_before', notBefore, 'last_error', lastErr, 'updated_at', now)
	redis.call('ZADD', prefix .. ':ready:' .. u[2], notBefore, id)
	return 'pending'
end
redis.call('HSET', KEYS[1], 'status', mode, 'lease_until', 0, 'updated_at', now)
if lastErr ~= '' then
	redis.call('HSET', KEYS[1], 'last_error', lastErr)
end
redis.call('EXPIRE', KEYS[1], ARGV[7])
redis.call('SREM', prefix .. ':live:' .. u[2] .. ':' .. u[3], id)
redis.call('INCR', prefix .. ':count:' .. u[2] .. ':' .. mode)
if u[4] and u[4] ~= '' then
	local dedupe = prefix .. ':dedupe:' .. u[4]
	if redis.call('GET', dedupe) == id then
		redis.call('DEL', dedupe)
	end
end
return mode
`)

// NewRedisQueue wraps an existing client. prefix defaults to "inkwell:wq".
func NewRedisQueue(client *redis.Client, prefix string, maxAttempts int) *RedisQueue {
	if prefix == "" {
		prefix = "inkwell:wq"
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RedisQueue{
		client:     client,
		prefix:     prefix,
		now:        func() time.Time { return time.Now().UTC() },
		maxDefault: maxAttempts,
		retention:  7 * 24 * time.Hour,
	}
}

// SetClock overrides the time source used for eligibility and leases.
func (q *RedisQueue) SetClock(now func() time.Time) {
	q.now = now
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) key(parts ...string) string {
	k := q.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *RedisQueue) unitKey(id string) string      { return q.key("unit", id) }
func (q *RedisQueue) readyKey(queue string) string  { return q.key("ready", queue) }
func (q *RedisQueue) leasedKey(queue string) string { return q.key("leased", queue) }
func (q *RedisQueue) dedupeKey(key string) string   { return q.key("dedupe", key) }
func (q *RedisQueue) liveKey(queue string, bookID int64) string {
	return q.key("live", queue, strconv.FormatInt(bookID, 10))
}
func (q *RedisQueue) countKey(queue string, status Status) string {
	return q.key("count", queue, string(status))
}

func (q *RedisQueue) Enqueue(ctx context.Context, unit Unit) (Unit, error) {
	if err := unit.normalize(q.now(), q.maxDefault); err != nil {
		return Unit{}, err
	}
	hasDedupe := "0"
	if unit.DedupeKey != "" {
		hasDedupe = "1"
	}
	args := []any{unit.ID, q.unitKey(""), unit.NotBefore.UnixMilli(), unit.Queue, hasDedupe}
	args = append(args, recordFromUnit(unit).fields()...)
	holder, err := enqueueScript.Run(ctx, q.client,
		[]string{
			q.unitKey(unit.ID),
			q.readyKey(unit.Queue),
			q.liveKey(unit.Queue, unit.BookID),
			q.key("queues"),
			q.dedupeKey(unit.DedupeKey),
		},
		args...,
	).Text()
	if err != nil {
		return Unit{}, fmt.Errorf("enqueue work unit: %w", err)
	}
	if holder != unit.ID {
		existing, err := q.Get(ctx, holder)
		if err != nil {
			return Unit{ID: holder, DedupeKey: unit.DedupeKey}, ErrDuplicate
		}
		return *existing, ErrDuplicate
	}
	return unit, nil
}

func (q *RedisQueue) Claim(ctx context.Context, queue string, lease time.Duration) (*Unit, error) {
	now := q.now()
	until := now.Add(lease)
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.readyKey(queue), q.leasedKey(queue)},
		now.UnixMilli(), until.UnixMilli(), q.unitKey(""),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim work unit: %w", err)
	}
	id, _ := res.(string)
	if id == "" {
		return nil, nil
	}
	return q.Get(ctx, id)
}

func (q *RedisQueue) leased(ctx context.Context, id string) (*Unit, error) {
	unit, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit.Status != StatusLeased {
		return nil, fmt.Errorf("work unit %s: %w", id, ErrNotLeased)
	}
	return unit, nil
}

// settle runs settleScript for id and returns the outcome it reported.
func (q *RedisQueue) settle(ctx context.Context, id, mode, lastErr string, notBefore time.Time) (string, error) {
	res, err := settleScript.Run(ctx, q.client, []string{q.unitKey(id)},
		q.prefix, id, mode, q.now().UnixMilli(), lastErr, notBefore.UnixMilli(), int64(q.retention/time.Second),
	).Text()
	if err != nil {
		return "", fmt.Errorf("%s work unit %s: %w", mode, id, err)
	}
	switch res {
	case "missing":
		return res, services.Wrap(services.ErrNotFound, "workqueue", mode, "unit "+id, nil)
	case "not_leased":
		return res, fmt.Errorf("work unit %s: %w", id, ErrNotLeased)
	}
	return res, nil
}

func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	_, err := q.settle(ctx, id, string(StatusDone), "", time.Time{})
	return err
}

func (q *RedisQueue) Fail(ctx context.Context, id string, lastErr string) error {
	_, err := q.settle(ctx, id, string(StatusFailed), lastErr, time.Time{})
	return err
}

func (q *RedisQueue) Retry(ctx context.Context, id string, notBefore time.Time, lastErr string) error {
	_, err := q.settle(ctx, id, "retry", lastErr, notBefore)
	return err
}

func (q *RedisQueue) Heartbeat(ctx context.Context, id string, lease time.Duration) error {
	unit, err := q.leased(ctx, id)
	if err != nil {
		return err
	}
	now := q.now()
	until := now.Add(lease).UnixMilli()
	if err := q.client.ZAddXX(ctx, q.leasedKey(unit.Queue), redis.Z{Score: float64(until), Member: id}).Err(); err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return q.client.HSet(ctx, q.unitKey(id), "lease_until", until, "updated_at", now.UnixMilli()).Err()
}

func (q *RedisQueue) ReclaimExpired(ctx context.Context) (ReclaimResult, error) {
	var result ReclaimResult
	queues, err := q.client.SMembers(ctx, q.key("queues")).Result()
	if err != nil {
		return result, fmt.Errorf("list queues: %w", err)
	}
	now := q.now()
	for _, name := range queues {
		ids, err := q.client.ZRangeByScore(ctx, q.leasedKey(name), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now.UnixMilli()-1, 10),
		}).Result()
		if err != nil {
			return result, fmt.Errorf("expired leases in %s: %w", name, err)
		}
		for _, id := range ids {
			outcome, err := q.settle(ctx, id, "reclaim", "", now)
			if errors.Is(err, ErrNotLeased) || errors.Is(err, services.ErrNotFound) {
				// Settled by its worker since the scan.
				continue
			}
			if err != nil {
				return result, err
			}
			switch Status(outcome) {
			case StatusPending:
				result.Requeued++
			case StatusFailed:
				unit, err := q.Get(ctx, id)
				if err != nil {
					return result, err
				}
				result.Failed = append(result.Failed, *unit)
			}
		}
	}
	return result, nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Unit, error) {
	if id == "" {
		return nil, services.Wrap(services.ErrNotFound, "workqueue", "get", "empty unit id", nil)
	}
	cmd := q.client.HGetAll(ctx, q.unitKey(id))
	values, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("get work unit: %w", err)
	}
	if len(values) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "workqueue", "get", "unit "+id, nil)
	}
	var rec unitRecord
	if err := cmd.Scan(&rec); err != nil {
		return nil, fmt.Errorf("decode work unit: %w", err)
	}
	return rec.unit(), nil
}

func (q *RedisQueue) CountLive(ctx context.Context, queue string, bookID int64) (int, error) {
	n, err := q.client.SCard(ctx, q.liveKey(queue, bookID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count live units: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Stats(ctx context.Context) (map[string]QueueStats, error) {
	stats := make(map[string]QueueStats)
	names, err := q.client.SMembers(ctx, q.key("queues")).Result()
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	for _, name := range Queues() {
		stats[name] = QueueStats{}
	}
	for _, name := range names {
		pipe := q.client.Pipeline()
		ready := pipe.ZCard(ctx, q.readyKey(name))
		leased := pipe.ZCard(ctx, q.leasedKey(name))
		done := pipe.Get(ctx, q.countKey(name, StatusDone))
		failed := pipe.Get(ctx, q.countKey(name, StatusFailed))
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("queue stats %s: %w", name, err)
		}
		doneN, _ := done.Int()
		failedN, _ := failed.Int()
		stats[name] = QueueStats{
			Pending: int(ready.Val()),
			Leased:  int(leased.Val()),
			Done:    doneN,
			Failed:  failedN,
		}
	}
	return stats, nil
}
