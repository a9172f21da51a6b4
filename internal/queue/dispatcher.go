package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/pkg/logger"
	"github.com/grepiku/grepiku/pkg/telemetry"
)

const (
	// maxAttempts bounds redelivery of a failing job.
	maxAttempts = 3
	// workerChannelSize buffers dispatched jobs ahead of the workers.
	workerChannelSize = 100
)

// Handler processes one job. A returned error triggers redelivery with
// backoff until maxAttempts, then the job is dropped.
type Handler func(ctx context.Context, job *Job) error

// dispatcher moves jobs from one fifo to a fixed pool of workers.
type dispatcher struct {
	queue   *fifo
	handler Handler
	jobs    chan *Job
	workers int
	backoff time.Duration

	workerWg sync.WaitGroup
	loopWg   sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func newDispatcher(ctx context.Context, q *fifo, workers int, backoff time.Duration, handler Handler) *dispatcher {
	dctx, cancel := context.WithCancel(ctx)
	return &dispatcher{
		queue:   q,
		handler: handler,
		jobs:    make(chan *Job, workerChannelSize),
		workers: workers,
		backoff: backoff,
		ctx:     dctx,
		cancel:  cancel,
	}
}

func (d *dispatcher) start() {
	logger.Info("Starting queue workers",
		zap.String("queue", d.queue.name),
		zap.Int("workers", d.workers),
	)
	for i := 0; i < d.workers; i++ {
		d.workerWg.Add(1)
		go d.worker(i)
	}
	d.loopWg.Add(1)
	go d.dispatchLoop()
}

func (d *dispatcher) stop() {
	d.cancel()
	d.loopWg.Wait()
	close(d.jobs)
	d.workerWg.Wait()
	logger.Info("Queue workers stopped", zap.String("queue", d.queue.name))
}

// dispatchLoop waits for readiness signals and feeds runnable jobs to the
// worker channel.
func (d *dispatcher) dispatchLoop() {
	defer d.loopWg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.queue.JobReady():
			d.tryDispatch()
		}
	}
}

func (d *dispatcher) tryDispatch() {
	for {
		job := d.queue.Dequeue()
		if job == nil {
			return
		}
		select {
		case d.jobs <- job:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *dispatcher) worker(id int) {
	defer d.workerWg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case job, ok := <-d.jobs:
			if !ok {
				return
			}
			if job == nil {
				continue
			}
			d.process(id, job)
		}
	}
}

// process runs one job and handles redelivery. The group stays held across
// retries so serialized jobs never interleave with their own retry.
func (d *dispatcher) process(workerID int, job *Job) {
	start := time.Now()
	err := d.runOnce(job)
	for err != nil && job.Attempt < maxAttempts && d.ctx.Err() == nil {
		logger.Warn("Job failed, retrying",
			zap.String("queue", job.Queue),
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		telemetry.JobsCompletedTotal.WithLabelValues(job.Queue, "retried").Inc()
		select {
		case <-time.After(d.backoff * time.Duration(job.Attempt)):
		case <-d.ctx.Done():
		}
		if d.ctx.Err() == nil {
			err = d.runOnce(job)
		}
	}

	status := "success"
	if err != nil {
		status = "failed"
		logger.Error("Job failed permanently",
			zap.String("queue", job.Queue),
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempts", job.Attempt),
			zap.Error(err),
		)
	} else {
		logger.Debug("Job completed",
			zap.Int("worker_id", workerID),
			zap.String("queue", job.Queue),
			zap.String("job_id", job.ID),
			zap.Duration("duration", time.Since(start)),
		)
	}
	telemetry.JobsCompletedTotal.WithLabelValues(job.Queue, status).Inc()
	d.queue.MarkComplete(job)
}

// runOnce invokes the handler with panic containment; a panicking handler
// counts as a failed attempt, not a dead worker.
func (d *dispatcher) runOnce(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	job.Attempt++
	return d.handler(d.ctx, job)
}
