// Package queue provides the in-process job plane: named FIFO queues with
// per-queue worker pools. The review queue additionally serializes jobs per
// repository so two runs never touch the same bare clone concurrently.
package queue

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/pkg/idgen"
	"github.com/grepiku/grepiku/pkg/logger"
	"github.com/grepiku/grepiku/pkg/telemetry"
)

// Queue names. Handlers are registered per name.
const (
	QueueReview    = "review"
	QueueIndex     = "index"
	QueueAnalytics = "analytics"
)

// Job kinds carried on the queues.
const (
	KindReview       = "review"
	KindCommentReply = "comment_reply"
	KindIndexRefresh = "index_refresh"
	KindAnalytics    = "analytics"
)

// Job is one unit of work. ID doubles as the dedupe key: enqueueing a job
// whose ID is already pending or running is a no-op.
type Job struct {
	ID    string
	Queue string
	Kind  string
	// GroupKey serializes jobs on queues created with Serialize: at most one
	// job per group runs at a time, FIFO within the group. Empty groups are
	// replaced by the job ID, which disables serialization for that job.
	GroupKey string
	// Payload is interpreted by the registered handler.
	Payload any
	// Attempt counts deliveries, starting at 1.
	Attempt    int
	EnqueuedAt time.Time
}

// NewJob builds a job with a fresh ID.
func NewJob(queueName, kind, groupKey string, payload any) *Job {
	return &Job{
		ID:       idgen.NewID(),
		Queue:    queueName,
		Kind:     kind,
		GroupKey: groupKey,
		Payload:  payload,
	}
}

// groupQueue is one serialization group's FIFO list.
type groupQueue struct {
	jobs    *list.List
	running bool
	// currentJobID is the ID of the running job ("" if none).
	currentJobID string
}

// fifo is a named queue: a set of serialization groups plus a ready signal.
// With per-job group keys it degenerates into a plain FIFO.
type fifo struct {
	name      string
	serialize bool

	mu       sync.RWMutex
	groups   map[string]*groupQueue
	jobsByID map[string]*Job

	// jobReady signals the dispatcher that work may be available.
	jobReady chan struct{}
}

func newFIFO(name string, serialize bool) *fifo {
	return &fifo{
		name:      name,
		serialize: serialize,
		groups:    make(map[string]*groupQueue),
		jobsByID:  make(map[string]*Job),
		jobReady:  make(chan struct{}, 100),
	}
}

// groupKeyFor picks the serialization key. Non-serialized queues key every
// job by its own ID so nothing waits on anything else.
func (q *fifo) groupKeyFor(job *Job) string {
	if !q.serialize || job.GroupKey == "" {
		return job.ID
	}
	return job.GroupKey
}

// Enqueue adds a job. Returns false when a job with the same ID is already
// pending or running.
func (q *fifo) Enqueue(job *Job) bool {
	if job == nil {
		logger.Warn("Attempted to enqueue nil job", zap.String("queue", q.name))
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasLocked(job.ID) {
		logger.Debug("Job already queued, skipping",
			zap.String("queue", q.name),
			zap.String("job_id", job.ID),
		)
		return false
	}

	key := q.groupKeyFor(job)
	gq, ok := q.groups[key]
	if !ok {
		gq = &groupQueue{jobs: list.New()}
		q.groups[key] = gq
	}

	job.EnqueuedAt = time.Now()
	gq.jobs.PushBack(job)
	q.jobsByID[job.ID] = job

	telemetry.JobsEnqueuedTotal.WithLabelValues(q.name).Inc()
	telemetry.QueueDepth.WithLabelValues(q.name).Set(float64(q.pendingLocked()))

	q.signalReady()
	return true
}

// Dequeue returns the next runnable job, or nil when every group is either
// empty or already running a job.
func (q *fifo) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, gq := range q.groups {
		if gq.running || gq.jobs.Len() == 0 {
			continue
		}
		elem := gq.jobs.Front()
		job := elem.Value.(*Job)
		gq.jobs.Remove(elem)

		gq.running = true
		gq.currentJobID = job.ID
		delete(q.jobsByID, job.ID)

		telemetry.QueueDepth.WithLabelValues(q.name).Set(float64(q.pendingLocked()))
		return job
	}
	return nil
}

// MarkComplete releases the job's serialization group and wakes the
// dispatcher. Called on success and failure alike.
func (q *fifo) MarkComplete(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := q.groupKeyFor(job)
	gq, ok := q.groups[key]
	if !ok {
		return
	}
	gq.running = false
	gq.currentJobID = ""
	if gq.jobs.Len() == 0 {
		delete(q.groups, key)
	}
	q.signalReady()
}

// Has reports whether a job with the given ID is pending or running.
func (q *fifo) Has(jobID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.hasLocked(jobID)
}

func (q *fifo) hasLocked(jobID string) bool {
	if _, ok := q.jobsByID[jobID]; ok {
		return true
	}
	for _, gq := range q.groups {
		if gq.currentJobID == jobID {
			return true
		}
	}
	return false
}

// Pending returns the number of queued (not running) jobs.
func (q *fifo) Pending() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.pendingLocked()
}

func (q *fifo) pendingLocked() int {
	n := 0
	for _, gq := range q.groups {
		n += gq.jobs.Len()
	}
	return n
}

// Running returns the number of groups with a job in flight.
func (q *fifo) Running() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, gq := range q.groups {
		if gq.running {
			n++
		}
	}
	return n
}

// JobReady exposes the readiness signal for the dispatcher loop.
func (q *fifo) JobReady() <-chan struct{} {
	return q.jobReady
}

func (q *fifo) signalReady() {
	select {
	case q.jobReady <- struct{}{}:
	default:
		// A signal is already pending.
	}
}
