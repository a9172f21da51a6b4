package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/pkg/errors"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEnqueueDeduplicatesByID(t *testing.T) {
	q := newFIFO(QueueReview, true)

	job := &Job{ID: "j1", Kind: KindReview, GroupKey: "org/app"}
	assert.True(t, q.Enqueue(job))
	assert.False(t, q.Enqueue(&Job{ID: "j1", Kind: KindReview, GroupKey: "org/app"}))
	assert.Equal(t, 1, q.Pending())
}

func TestDequeueSerializesPerGroup(t *testing.T) {
	q := newFIFO(QueueReview, true)

	require.True(t, q.Enqueue(&Job{ID: "a1", GroupKey: "org/app"}))
	require.True(t, q.Enqueue(&Job{ID: "a2", GroupKey: "org/app"}))
	require.True(t, q.Enqueue(&Job{ID: "b1", GroupKey: "org/lib"}))

	first := q.Dequeue()
	require.NotNil(t, first)
	second := q.Dequeue()
	require.NotNil(t, second)

	// One job per group: a2 must wait for a1.
	got := map[string]bool{first.ID: true, second.ID: true}
	assert.True(t, got["a1"])
	assert.True(t, got["b1"])
	assert.Nil(t, q.Dequeue())

	// Completing a1 releases the group and a2 becomes runnable.
	q.MarkComplete(first)
	q.MarkComplete(second)
	third := q.Dequeue()
	require.NotNil(t, third)
	assert.Equal(t, "a2", third.ID)
}

func TestDequeueFIFOWithinGroup(t *testing.T) {
	q := newFIFO(QueueReview, true)
	for _, id := range []string{"j1", "j2", "j3"} {
		require.True(t, q.Enqueue(&Job{ID: id, GroupKey: "org/app"}))
	}

	var order []string
	for {
		job := q.Dequeue()
		if job == nil {
			break
		}
		order = append(order, job.ID)
		q.MarkComplete(job)
	}
	assert.Equal(t, []string{"j1", "j2", "j3"}, order)
}

func TestNonSerializedQueueRunsGroupsConcurrently(t *testing.T) {
	q := newFIFO(QueueIndex, false)
	require.True(t, q.Enqueue(&Job{ID: "i1", GroupKey: "org/app"}))
	require.True(t, q.Enqueue(&Job{ID: "i2", GroupKey: "org/app"}))

	// Without serialization the shared group key does not block the second job.
	assert.NotNil(t, q.Dequeue())
	assert.NotNil(t, q.Dequeue())
}

func TestHasSeesPendingAndRunning(t *testing.T) {
	q := newFIFO(QueueReview, true)
	require.True(t, q.Enqueue(&Job{ID: "j1", GroupKey: "org/app"}))
	assert.True(t, q.Has("j1"))

	job := q.Dequeue()
	require.NotNil(t, job)
	assert.True(t, q.Has("j1"), "running jobs still count")

	q.MarkComplete(job)
	assert.False(t, q.Has("j1"))
}

func TestDispatcherProcessesJobs(t *testing.T) {
	q := newFIFO(QueueIndex, false)
	var processed atomic.Int32
	d := newDispatcher(context.Background(), q, 2, time.Millisecond, func(ctx context.Context, job *Job) error {
		processed.Add(1)
		return nil
	})
	d.start()
	defer d.stop()

	for _, id := range []string{"j1", "j2", "j3"} {
		q.Enqueue(&Job{ID: id, Kind: KindIndexRefresh})
	}

	waitFor(t, func() bool { return processed.Load() == 3 }, "jobs not processed")
}

func TestDispatcherRetriesFailedJobs(t *testing.T) {
	q := newFIFO(QueueReview, true)
	var attempts atomic.Int32
	d := newDispatcher(context.Background(), q, 1, time.Millisecond, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return errors.New(errors.ErrCodeRunFailed, "boom")
	})
	d.start()
	defer d.stop()

	q.Enqueue(&Job{ID: "j1", GroupKey: "org/app"})

	waitFor(t, func() bool { return attempts.Load() == maxAttempts }, "job not retried")
	waitFor(t, func() bool { return !q.Has("j1") }, "failed job not released")
}

func TestDispatcherRecoversSucceedingRetry(t *testing.T) {
	q := newFIFO(QueueReview, true)
	var attempts atomic.Int32
	d := newDispatcher(context.Background(), q, 1, time.Millisecond, func(ctx context.Context, job *Job) error {
		if attempts.Add(1) < 2 {
			return errors.New(errors.ErrCodeRunFailed, "transient")
		}
		return nil
	})
	d.start()
	defer d.stop()

	q.Enqueue(&Job{ID: "j1", GroupKey: "org/app"})

	waitFor(t, func() bool { return attempts.Load() == 2 }, "retry did not run")
	waitFor(t, func() bool { return !q.Has("j1") }, "job not released after success")
}

func TestDispatcherContainsHandlerPanics(t *testing.T) {
	q := newFIFO(QueueIndex, false)
	var calls atomic.Int32
	d := newDispatcher(context.Background(), q, 1, time.Millisecond, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		panic("handler bug")
	})
	d.start()
	defer d.stop()

	q.Enqueue(&Job{ID: "j1"})
	q.Enqueue(&Job{ID: "j2"})

	// Both jobs run their full retry budget; the worker survives.
	waitFor(t, func() bool { return calls.Load() == 2*maxAttempts }, "panicking handler killed worker")
}

func TestDispatcherSerializesRepoJobsAcrossWorkers(t *testing.T) {
	q := newFIFO(QueueReview, true)
	var mu sync.Mutex
	inFlight := map[string]int{}
	maxInFlight := map[string]int{}
	var done atomic.Int32

	d := newDispatcher(context.Background(), q, 4, time.Millisecond, func(ctx context.Context, job *Job) error {
		mu.Lock()
		inFlight[job.GroupKey]++
		if inFlight[job.GroupKey] > maxInFlight[job.GroupKey] {
			maxInFlight[job.GroupKey] = inFlight[job.GroupKey]
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight[job.GroupKey]--
		mu.Unlock()
		done.Add(1)
		return nil
	})
	d.start()
	defer d.stop()

	for i := 0; i < 4; i++ {
		q.Enqueue(NewJob(QueueReview, KindReview, "org/app", nil))
		q.Enqueue(NewJob(QueueReview, KindReview, "org/lib", nil))
	}

	waitFor(t, func() bool { return done.Load() == 8 }, "jobs not drained")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight["org/app"], "same repo must never run concurrently")
	assert.Equal(t, 1, maxInFlight["org/lib"])
}

func TestManagerRoutesToNamedQueues(t *testing.T) {
	m := NewManager(context.Background(), config.WorkersConfig{Review: 2, Index: 1, Analytics: 1})

	var reviews, indexes atomic.Int32
	require.NoError(t, m.Register(QueueReview, func(ctx context.Context, job *Job) error {
		reviews.Add(1)
		return nil
	}))
	require.NoError(t, m.Register(QueueIndex, func(ctx context.Context, job *Job) error {
		indexes.Add(1)
		return nil
	}))
	require.NoError(t, m.Register(QueueAnalytics, func(ctx context.Context, job *Job) error {
		return nil
	}))

	m.Start()
	defer m.Stop()

	require.NoError(t, m.Enqueue(QueueReview, NewJob(QueueReview, KindReview, "org/app", nil)))
	require.NoError(t, m.Enqueue(QueueIndex, NewJob(QueueIndex, KindIndexRefresh, "", nil)))

	waitFor(t, func() bool { return reviews.Load() == 1 && indexes.Load() == 1 }, "manager did not route jobs")
}

func TestManagerRejectsUnknownQueue(t *testing.T) {
	m := NewManager(context.Background(), config.WorkersConfig{})
	err := m.Enqueue("nope", NewJob("nope", KindReview, "", nil))
	assert.Error(t, err)
	assert.Error(t, m.Register("nope", func(ctx context.Context, job *Job) error { return nil }))
}
