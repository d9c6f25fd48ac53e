package library

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var ErrQueueClosed = errors.New("job queue closed")

// RunFunc computes the features for one id.
type RunFunc func(ctx context.Context, id string) (Features, error)

// Job is the future for one queued computation.
type Job struct {
	ID       string
	priority int
	seq      uint64
	index    int

	done   chan struct{}
	result Features
	err    error
}

func newJob(id string, priority int, seq uint64) *Job {
	return &Job{ID: id, priority: priority, seq: seq, done: make(chan struct{})}
}

func (j *Job) Priority() int {
	return j.priority
}

// Done is closed once the result is available.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Ready reports whether the job has completed.
func (j *Job) Ready() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the job completes or ctx ends.
func (j *Job) Wait(ctx context.Context) (Features, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return Features{}, ctx.Err()
	}
}

func (j *Job) complete(f Features, err error) {
	j.result, j.err = f, err
	close(j.done)
}

// jobHeap orders by priority, highest first, then by submission.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]
	return job
}

// Queue runs jobs on at most Workers goroutines, always starting the highest
// priority waiting job first. Results are published in start order, so of two
// jobs waiting together the higher priority one never completes later.
type Queue struct {
	run    RunFunc
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu      sync.Mutex
	waiting jobHeap
	byID    map[string]*Job
	seq     uint64
	last    chan struct{}
	closed  bool

	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

func NewQueue(workers int, run RunFunc, logger *slog.Logger) (*Queue, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	if run == nil {
		return nil, fmt.Errorf("run function is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		run:    run,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(workers)),
		byID:   make(map[string]*Job),
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	q.group.Go(q.dispatch)
	return q, nil
}

// Submit queues id. A job already waiting or running for id is returned
// instead, with its priority raised if the new one is higher.
func (q *Queue) Submit(id string, priority int) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.byID[id]; ok {
		if priority > job.priority && job.index >= 0 {
			job.priority = priority
			heap.Fix(&q.waiting, job.index)
		}
		return job
	}

	q.seq++
	job := newJob(id, priority, q.seq)
	if q.closed {
		job.complete(Features{}, ErrQueueClosed)
		return job
	}
	q.byID[id] = job
	heap.Push(&q.waiting, job)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return job
}

// Waiting reports jobs not yet started.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Pending reports jobs waiting or running.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

func (q *Queue) dispatch() error {
	for {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return nil
		}
		job, prev := q.next()
		for job == nil {
			select {
			case <-q.notify:
			case <-q.ctx.Done():
				q.sem.Release(1)
				return nil
			}
			job, prev = q.next()
		}
		q.group.Go(func() error {
			q.execute(job, prev)
			return nil
		})
	}
}

// next pops the best waiting job and chains it behind the previously started
// one.
func (q *Queue) next() (*Job, chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) == 0 {
		return nil, nil
	}
	job := heap.Pop(&q.waiting).(*Job)
	prev := q.last
	q.last = job.done
	return job, prev
}

func (q *Queue) execute(job *Job, prev chan struct{}) {
	f, err := q.compute(job)
	q.sem.Release(1)
	if prev != nil {
		<-prev
	}

	q.mu.Lock()
	delete(q.byID, job.ID)
	q.mu.Unlock()
	if err != nil {
		q.logger.Warn("feature job failed", "id", job.ID, "error", err)
	}
	job.complete(f, err)
}

func (q *Queue) compute(job *Job) (f Features, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("feature job %q panicked: %v", job.ID, rec)
		}
	}()
	return q.run(q.ctx, job.ID)
}

// Close stops dispatching and fails waiting jobs with ErrQueueClosed. Running
// jobs see their context canceled and are waited for.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	waiting := make([]*Job, 0, len(q.waiting))
	for q.waiting.Len() > 0 {
		job := heap.Pop(&q.waiting).(*Job)
		delete(q.byID, job.ID)
		waiting = append(waiting, job)
	}
	q.mu.Unlock()

	q.cancel()
	err := q.group.Wait()
	for _, job := range waiting {
		job.complete(Features{}, ErrQueueClosed)
	}
	return err
}
