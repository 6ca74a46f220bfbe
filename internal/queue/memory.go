package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
)

var _ Drainer = (*Memory)(nil)

// Memory is an in-process queue backed by a buffered channel.
type Memory struct {
	tasks          chan Task
	done           chan struct{}
	workers        int
	enqueueTimeout time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewMemory creates an in-process queue.
func NewMemory(cfg config.QueueConfig) *Memory {
	return &Memory{
		tasks:          make(chan Task, capacity(cfg)),
		done:           make(chan struct{}),
		workers:        workerCount(cfg),
		enqueueTimeout: config.StageTimeout(cfg.EnqueueTimeoutSecs, defaultEnqueueTimeout),
		pending:        make(map[string]struct{}),
	}
}

// Enqueue waits for buffer space until the enqueue timeout or ctx expires.
func (m *Memory) Enqueue(ctx context.Context, task Task) error {
	if task.JobID == "" {
		return eris.New("queue: task requires a job id")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.pending[task.JobID]; ok {
		m.mu.Unlock()
		return eris.Wrapf(ErrDuplicate, "queue: job %s", task.JobID)
	}
	m.pending[task.JobID] = struct{}{}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.enqueueTimeout)
	defer cancel()

	select {
	case m.tasks <- task:
		return nil
	case <-m.done:
		m.release(task.JobID)
		return ErrClosed
	case <-ctx.Done():
		m.release(task.JobID)
		return eris.Wrapf(ErrQueueFull, "queue: job %s: %v", task.JobID, ctx.Err())
	}
}

// Run starts the workers. Tasks still buffered when ctx is cancelled are
// not started; Drain hands them back.
func (m *Memory) Run(ctx context.Context, h Handler) error {
	zap.L().Info("queue: workers starting", zap.String("backend", "memory"), zap.Int("workers", m.workers))

	var g errgroup.Group
	for i := 0; i < m.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-m.done:
					return nil
				case task := <-m.tasks:
					runHandler(ctx, h, task)
					m.release(task.JobID)
				}
			}
		})
	}
	err := g.Wait()

	if n := len(m.tasks); n > 0 {
		zap.L().Warn("queue: stopped with tasks still buffered", zap.Int("buffered", n))
	}
	return err
}

// Drain removes and returns every buffered task and forgets their job ids.
func (m *Memory) Drain() []Task {
	var tasks []Task
	for {
		select {
		case task := <-m.tasks:
			m.release(task.JobID)
			tasks = append(tasks, task)
		default:
			return tasks
		}
	}
}

// Len returns the number of buffered tasks.
func (m *Memory) Len() int {
	return len(m.tasks)
}

// Close stops accepting tasks and stops idle workers.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *Memory) release(jobID string) {
	m.mu.Lock()
	delete(m.pending, jobID)
	m.mu.Unlock()
}
