package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
)

const (
	defaultRedisKey = "iip:jobs"
	popTimeout      = time.Second
	fullPollEvery   = 100 * time.Millisecond
)

// Redis is a list-backed queue shared by every process pointing at the same
// key. Each job id holds a "queued" marker from Enqueue until its handler
// returns, and a processing lease while the handler runs.
type Redis struct {
	client         redis.UniversalClient
	key            string
	workers        int
	capacity       int64
	enqueueTimeout time.Duration
	lease          time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewRedis creates a Redis queue over client.
func NewRedis(client redis.UniversalClient, cfg config.QueueConfig) *Redis {
	key := cfg.RedisKey
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{
		client:         client,
		key:            key,
		workers:        workerCount(cfg),
		capacity:       int64(capacity(cfg)),
		enqueueTimeout: config.StageTimeout(cfg.EnqueueTimeoutSecs, defaultEnqueueTimeout),
		lease:          config.StageTimeout(cfg.LeaseSecs, defaultLease),
		done:           make(chan struct{}),
	}
}

func (q *Redis) queuedKey(jobID string) string { return q.key + ":queued:" + jobID }
func (q *Redis) leaseKey(jobID string) string  { return q.key + ":lease:" + jobID }

// Enqueue pushes the task once the list has room, polling LLEN until the
// enqueue timeout or ctx expires.
func (q *Redis) Enqueue(ctx context.Context, task Task) error {
	if task.JobID == "" {
		return eris.New("queue: task requires a job id")
	}
	if q.isClosed() {
		return ErrClosed
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return eris.Wrap(err, "queue: marshal task")
	}

	ctx, cancel := context.WithTimeout(ctx, q.enqueueTimeout)
	defer cancel()

	ok, err := q.client.SetArgs(ctx, q.queuedKey(task.JobID), "1", redis.SetArgs{Mode: "NX", TTL: q.lease}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return eris.Wrap(err, "queue: mark queued")
	}
	if ok != "OK" {
		return eris.Wrapf(ErrDuplicate, "queue: job %s", task.JobID)
	}

	ticker := time.NewTicker(fullPollEvery)
	defer ticker.Stop()
	for {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err == nil && n < q.capacity {
			if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
				q.unmark(task.JobID)
				return eris.Wrap(err, "queue: push")
			}
			return nil
		}
		if err != nil && ctx.Err() == nil {
			q.unmark(task.JobID)
			return eris.Wrap(err, "queue: length")
		}

		select {
		case <-ctx.Done():
			q.unmark(task.JobID)
			return eris.Wrapf(ErrQueueFull, "queue: job %s: %v", task.JobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Run pops tasks with BRPOP on every worker until ctx is cancelled.
func (q *Redis) Run(ctx context.Context, h Handler) error {
	zap.L().Info("queue: workers starting",
		zap.String("backend", "redis"),
		zap.String("key", q.key),
		zap.Int("workers", q.workers),
	)

	var g errgroup.Group
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-q.done:
					return nil
				default:
				}

				task, ok := q.pop(ctx)
				if !ok {
					continue
				}
				q.process(ctx, h, task)
			}
		})
	}
	return g.Wait()
}

func (q *Redis) pop(ctx context.Context) (Task, bool) {
	res, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			zap.L().Warn("queue: pop failed", zap.Error(err))
			time.Sleep(popTimeout)
		}
		return Task{}, false
	}
	if len(res) != 2 {
		return Task{}, false
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		zap.L().Error("queue: dropping undecodable task", zap.Error(err))
		return Task{}, false
	}
	return task, true
}

func (q *Redis) process(ctx context.Context, h Handler, task Task) {
	bg := context.WithoutCancel(ctx)
	acquired, err := q.client.SetArgs(bg, q.leaseKey(task.JobID), "1", redis.SetArgs{Mode: "NX", TTL: q.lease}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		zap.L().Error("queue: acquire lease", zap.String("job_id", task.JobID), zap.Error(err))
		return
	}
	if acquired != "OK" {
		zap.L().Warn("queue: job already running elsewhere", zap.String("job_id", task.JobID))
		return
	}

	runHandler(ctx, h, task)

	if err := q.client.Del(bg, q.leaseKey(task.JobID), q.queuedKey(task.JobID)).Err(); err != nil {
		zap.L().Warn("queue: release lease", zap.String("job_id", task.JobID), zap.Error(err))
	}
}

func (q *Redis) unmark(jobID string) {
	if err := q.client.Del(context.Background(), q.queuedKey(jobID)).Err(); err != nil {
		zap.L().Warn("queue: clear queued marker", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Len returns the list length, or 0 when Redis is unreachable.
func (q *Redis) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close stops the workers and closes the client.
func (q *Redis) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return eris.Wrap(q.client.Close(), "queue: close redis")
}

func (q *Redis) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
