package workqueue_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"inkwell/internal/services"
	"inkwell/internal/testsupport"
	"inkwell/internal/workqueue"
)

type clockedQueue interface {
	workqueue.Queue
	SetClock(func() time.Time)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backend struct {
	name string
	open func(t *testing.T) clockedQueue
}

func backends() []backend {
	return []backend{
		{name: "sqlite", open: openSQLite},
		{name: "redis", open: openRedis},
	}
}

func openSQLite(t *testing.T) clockedQueue {
	t.Helper()
	q, err := workqueue.OpenSQLite(filepath.Join(t.TempDir(), "workqueue.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// openRedis runs against a live server named by INKWELL_REDIS_ADDR.
func openRedis(t *testing.T) clockedQueue {
	t.Helper()
	addr := os.Getenv("INKWELL_REDIS_ADDR")
	if addr == "" {
		t.Skip("INKWELL_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis ping failed: %v", err)
	}
	prefix := "inkwell:test:" + uuid.NewString()
	q := workqueue.NewRedisQueue(client, prefix, 3)
	t.Cleanup(func() {
		bg := context.Background()
		iter := client.Scan(bg, 0, prefix+":*", 100).Iterator()
		for iter.Next(bg) {
			_ = client.Del(bg, iter.Val()).Err()
		}
		_ = client.Close()
	})
	return q
}

func withClock(q clockedQueue) *fakeClock {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	q.SetClock(clock.Now)
	return clock
}

func mustUnit(t *testing.T, queue, op string, bookID, entityID int64) workqueue.Unit {
	t.Helper()
	u, err := workqueue.NewUnit(queue, op, bookID, entityID, map[string]int64{"chapter_id": entityID})
	require.NoError(t, err)
	return u
}

func TestEnqueueClaimComplete(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			withClock(q)
			ctx := context.Background()

			unit := mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 1, 10)
			stored, err := q.Enqueue(ctx, unit)
			require.NoError(t, err)
			require.Equal(t, workqueue.StatusPending, stored.Status)
			require.Equal(t, 3, stored.MaxAttempts)

			claimed, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.NotNil(t, claimed)
			require.Equal(t, unit.ID, claimed.ID)
			require.Equal(t, 1, claimed.Attempts)
			require.Equal(t, workqueue.StatusLeased, claimed.Status)

			var payload struct {
				ChapterID int64 `json:"chapter_id"`
			}
			require.NoError(t, claimed.Decode(&payload))
			require.Equal(t, int64(10), payload.ChapterID)

			next, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.Nil(t, next)

			require.NoError(t, q.Complete(ctx, unit.ID))
			require.ErrorIs(t, q.Complete(ctx, unit.ID), workqueue.ErrNotLeased)

			done, err := q.Get(ctx, unit.ID)
			require.NoError(t, err)
			require.Equal(t, workqueue.StatusDone, done.Status)

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, stats[workqueue.QueueContent].Done)
		})
	}
}

func TestDedupeKeyAllowsOneLiveUnit(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			withClock(q)
			ctx := context.Background()

			first := mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 1, 10)
			first.DedupeKey = workqueue.DedupeKeyFor("chapter", 10)
			_, err := q.Enqueue(ctx, first)
			require.NoError(t, err)

			second := mustUnit(t, workqueue.QueueContent, workqueue.OpChapterRewrite, 1, 10)
			second.DedupeKey = first.DedupeKey
			existing, err := q.Enqueue(ctx, second)
			require.ErrorIs(t, err, workqueue.ErrDuplicate)
			require.Equal(t, first.ID, existing.ID)

			claimed, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.NoError(t, q.Complete(ctx, claimed.ID))

			// Once finished the key is free again.
			_, err = q.Enqueue(ctx, second)
			require.NoError(t, err)
		})
	}
}

func TestRetryHonoursNotBefore(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			clock := withClock(q)
			ctx := context.Background()

			unit := mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 1, 10)
			_, err := q.Enqueue(ctx, unit)
			require.NoError(t, err)
			claimed, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)

			require.NoError(t, q.Retry(ctx, claimed.ID, clock.Now().Add(30*time.Second), "provider timeout"))

			none, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.Nil(t, none)

			clock.Advance(31 * time.Second)
			again, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.NotNil(t, again)
			require.Equal(t, 2, again.Attempts)
			require.Equal(t, "provider timeout", again.LastError)

			require.NoError(t, q.Fail(ctx, again.ID, "gave up"))
			failed, err := q.Get(ctx, again.ID)
			require.NoError(t, err)
			require.Equal(t, workqueue.StatusFailed, failed.Status)
			require.Equal(t, "gave up", failed.LastError)
		})
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			clock := withClock(q)
			ctx := context.Background()

			retryable := mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 1, 10)
			_, err := q.Enqueue(ctx, retryable)
			require.NoError(t, err)
			last := mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 1, 11)
			last.MaxAttempts = 1
			last.NotBefore = clock.Now().Add(time.Second)
			_, err = q.Enqueue(ctx, last)
			require.NoError(t, err)

			clock.Advance(2 * time.Second)
			for range 2 {
				claimed, err := q.Claim(ctx, workqueue.QueueContent, 10*time.Second)
				require.NoError(t, err)
				require.NotNil(t, claimed)
			}

			// A heartbeat keeps the lease alive past its original expiry.
			clock.Advance(5 * time.Second)
			require.NoError(t, q.Heartbeat(ctx, retryable.ID, 10*time.Second))
			clock.Advance(6 * time.Second)
			res, err := q.ReclaimExpired(ctx)
			require.NoError(t, err)
			require.Equal(t, 0, res.Requeued)
			require.Len(t, res.Failed, 1)
			require.Equal(t, last.ID, res.Failed[0].ID)

			clock.Advance(10 * time.Second)
			res, err = q.ReclaimExpired(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, res.Requeued)
			require.Empty(t, res.Failed)

			reclaimed, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.NotNil(t, reclaimed)
			require.Equal(t, retryable.ID, reclaimed.ID)
			require.Equal(t, 2, reclaimed.Attempts)
		})
	}
}

func TestCompleteAfterReclaimIsRejected(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			clock := withClock(q)
			ctx := context.Background()

			unit := mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 1, 10)
			_, err := q.Enqueue(ctx, unit)
			require.NoError(t, err)
			_, err = q.Claim(ctx, workqueue.QueueContent, 10*time.Second)
			require.NoError(t, err)

			clock.Advance(11 * time.Second)
			res, err := q.ReclaimExpired(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, res.Requeued)

			// The worker that lost its lease must not settle the unit.
			require.ErrorIs(t, q.Complete(ctx, unit.ID), workqueue.ErrNotLeased)
			require.ErrorIs(t, q.Retry(ctx, unit.ID, clock.Now(), "late"), workqueue.ErrNotLeased)

			again, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.NotNil(t, again)
			require.Equal(t, unit.ID, again.ID)
			require.Equal(t, 2, again.Attempts)
			require.Equal(t, "lease expired", again.LastError)

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			require.Zero(t, stats[workqueue.QueueContent].Done)
		})
	}
}

func TestConcurrentEnqueueTakesOverFinishedDedupeKeyOnce(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			withClock(q)
			ctx := context.Background()

			key := workqueue.DedupeKeyFor("chapter", 10)
			first := mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 1, 10)
			first.DedupeKey = key
			_, err := q.Enqueue(ctx, first)
			require.NoError(t, err)
			claimed, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.NoError(t, q.Complete(ctx, claimed.ID))

			const writers = 8
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				accepted []string
				dupes    int
			)
			for range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					u, err := workqueue.NewUnit(workqueue.QueueContent, workqueue.OpChapterRewrite, 1, 10, map[string]int64{"chapter_id": 10})
					if err != nil {
						t.Errorf("new unit: %v", err)
						return
					}
					u.DedupeKey = key
					stored, err := q.Enqueue(ctx, u)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						accepted = append(accepted, stored.ID)
					case errors.Is(err, workqueue.ErrDuplicate):
						dupes++
					default:
						t.Errorf("enqueue: %v", err)
					}
				}()
			}
			wg.Wait()
			require.Len(t, accepted, 1)
			require.Equal(t, writers-1, dupes)

			live, err := q.CountLive(ctx, workqueue.QueueContent, 1)
			require.NoError(t, err)
			require.Equal(t, 1, live)
		})
	}
}

func TestCountLivePerBook(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			withClock(q)
			ctx := context.Background()

			for i := range int64(3) {
				_, err := q.Enqueue(ctx, mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 7, 100+i))
				require.NoError(t, err)
			}
			_, err := q.Enqueue(ctx, mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 8, 200))
			require.NoError(t, err)

			n, err := q.CountLive(ctx, workqueue.QueueContent, 7)
			require.NoError(t, err)
			require.Equal(t, 3, n)

			claimed, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
			require.NoError(t, err)
			require.NoError(t, q.Complete(ctx, claimed.ID))

			n, err = q.CountLive(ctx, workqueue.QueueContent, 7)
			require.NoError(t, err)
			require.Equal(t, 2, n)
		})
	}
}

func TestConcurrentClaimsDeliverOnce(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			withClock(q)
			ctx := context.Background()

			const units = 5
			for i := range int64(units) {
				_, err := q.Enqueue(ctx, mustUnit(t, workqueue.QueueContent, workqueue.OpChapterGenerate, 1, i+1))
				require.NoError(t, err)
			}

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = map[string]int{}
			)
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						u, err := q.Claim(ctx, workqueue.QueueContent, time.Minute)
						if err != nil || u == nil {
							return
						}
						mu.Lock()
						seen[u.ID]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			require.Len(t, seen, units)
			for id, n := range seen {
				if n != 1 {
					t.Fatalf("unit %s delivered %d times", id, n)
				}
			}
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q, err := workqueue.Open(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &workqueue.SQLiteQueue{}, q)
	require.NoError(t, q.Close())

	cfg.WorkQueue.Backend = "kafka"
	_, err = workqueue.Open(context.Background(), cfg)
	require.Error(t, err)
	require.ErrorIs(t, err, services.ErrConfiguration)
}
