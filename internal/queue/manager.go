package queue

import (
	"context"
	"sync"
	"time"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/pkg/errors"
)

// defaultRetryBackoff is the base delay between redeliveries; the delay
// grows linearly with the attempt number.
const defaultRetryBackoff = 2 * time.Second

// Enqueuer is the narrow interface handed to the scheduler and orchestrator.
type Enqueuer interface {
	Enqueue(queueName string, job *Job) error
	Has(queueName, jobID string) bool
}

// Manager owns the named queues and their worker pools.
type Manager struct {
	mu          sync.Mutex
	queues      map[string]*fifo
	dispatchers map[string]*dispatcher
	concurrency map[string]int
	backoff     time.Duration
	started     bool
	ctx         context.Context
}

// NewManager builds the three standard queues sized by the workers config.
// The review queue serializes per group key (owner/repo); index and
// analytics are plain FIFOs.
func NewManager(ctx context.Context, cfg config.WorkersConfig) *Manager {
	m := &Manager{
		queues:      make(map[string]*fifo),
		dispatchers: make(map[string]*dispatcher),
		concurrency: make(map[string]int),
		backoff:     defaultRetryBackoff,
		ctx:         ctx,
	}
	m.addQueue(QueueReview, cfg.Review, true)
	m.addQueue(QueueIndex, cfg.Index, false)
	m.addQueue(QueueAnalytics, cfg.Analytics, false)
	return m
}

func (m *Manager) addQueue(name string, workers int, serialize bool) {
	if workers <= 0 {
		workers = 1
	}
	m.queues[name] = newFIFO(name, serialize)
	m.concurrency[name] = workers
}

// Register installs the handler for one queue. Must be called before Start.
func (m *Manager) Register(queueName string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueName]
	if !ok {
		return errors.New(errors.ErrCodeValidation, "unknown queue "+queueName)
	}
	if m.started {
		return errors.New(errors.ErrCodeValidation, "cannot register handler after start")
	}
	m.dispatchers[queueName] = newDispatcher(m.ctx, q, m.concurrency[queueName], m.backoff, handler)
	return nil
}

// Start launches the worker pools for every registered queue.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	for _, d := range m.dispatchers {
		d.start()
	}
}

// Stop drains the dispatchers and waits for in-flight jobs to finish their
// current attempt.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	dispatchers := make([]*dispatcher, 0, len(m.dispatchers))
	for _, d := range m.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	m.mu.Unlock()

	for _, d := range dispatchers {
		d.stop()
	}
}

// Enqueue adds a job to the named queue. Duplicate job IDs are dropped
// silently; that is the at-least-once dedupe the scheduler relies on.
func (m *Manager) Enqueue(queueName string, job *Job) error {
	q, ok := m.queues[queueName]
	if !ok {
		return errors.New(errors.ErrCodeValidation, "unknown queue "+queueName)
	}
	job.Queue = queueName
	q.Enqueue(job)
	return nil
}

// Has reports whether a job ID is pending or running on the named queue.
func (m *Manager) Has(queueName, jobID string) bool {
	q, ok := m.queues[queueName]
	if !ok {
		return false
	}
	return q.Has(jobID)
}

// Pending returns the number of queued jobs on the named queue.
func (m *Manager) Pending(queueName string) int {
	q, ok := m.queues[queueName]
	if !ok {
		return 0
	}
	return q.Pending()
}
