// Package queue runs pipeline tasks on a bounded pool of workers.
package queue

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
)

var (
	// ErrQueueFull is returned when no capacity frees up before the enqueue deadline.
	ErrQueueFull = errors.New("queue: full")
	// ErrDuplicate is returned when a task for the same job is already queued or running.
	ErrDuplicate = errors.New("queue: job already queued")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue: closed")
)

// Task is one unit of pipeline work. Data holds the original document bytes.
type Task struct {
	JobID      string `json:"job_id"`
	SourceName string `json:"source_name"`
	Data       []byte `json:"data"`
}

// Handler processes a task. Errors are logged; they never stop the pool.
type Handler func(ctx context.Context, task Task) error

// Queue accepts tasks and dispatches them to workers.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Run starts the workers and blocks until ctx is cancelled and in-flight
	// tasks have finished.
	Run(ctx context.Context, h Handler) error
	Len() int
	Close() error
}

// Drainer is implemented by queues whose buffered tasks do not outlive the
// process.
type Drainer interface {
	// Drain removes and returns every buffered task. Call it after Run has
	// returned.
	Drain() []Task
}

const (
	defaultWorkers        = 4
	defaultCapacity       = 64
	defaultEnqueueTimeout = 5 * time.Second
	defaultLease          = 10 * time.Minute
)

// New creates the queue selected by cfg.Backend.
func New(cfg config.QueueConfig) (Queue, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(cfg), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, eris.New("queue: redis backend requires queue.redis_url")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, eris.Wrap(err, "queue: parse redis url")
		}
		return NewRedis(redis.NewClient(opts), cfg), nil
	default:
		return nil, eris.Errorf("queue: unknown backend %q", cfg.Backend)
	}
}

func workerCount(cfg config.QueueConfig) int {
	if cfg.Workers <= 0 {
		return defaultWorkers
	}
	return cfg.Workers
}

func capacity(cfg config.QueueConfig) int {
	if cfg.Capacity <= 0 {
		return defaultCapacity
	}
	return cfg.Capacity
}

// runHandler invokes h with panic recovery. In-flight work is detached from
// ctx cancellation so shutdown drains rather than aborts it.
func runHandler(ctx context.Context, h Handler, task Task) {
	log := zap.L().With(zap.String("job_id", task.JobID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("queue: handler panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := h(context.WithoutCancel(ctx), task); err != nil {
		log.Error("queue: handler failed", zap.Error(err))
	}
}
