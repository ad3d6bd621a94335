// Package warm implements the cache-warm background worker: a bounded
// concurrency pool, rate-limited, that walks a bucket's object listing and
// issues ordinary GETs through the same pipeline every client request uses,
// so coalescing, tiered caching and circuit breaking all apply exactly as
// they would for a real client.
package warm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Status is a prewarm task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Lister enumerates object keys for a bucket/prefix; it is the warm worker's
// only dependency on the backend, kept as an interface so the worker can be
// tested without a real upstream.
type Lister interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Fetcher performs the same GET a client would, including cache population;
// the pipeline package supplies the concrete implementation.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) error
}

// Task tracks one prewarm request end to end.
type Task struct {
	ID        string
	Bucket    string
	Prefix    string
	Status    Status
	Total     int
	Completed int
	Failed    int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time

	cancel context.CancelFunc
}

// Snapshot is a read-only copy of a Task safe to hand to callers outside the
// worker's lock.
type Snapshot struct {
	ID        string    `json:"id"`
	Bucket    string    `json:"bucket"`
	Prefix    string    `json:"prefix"`
	Status    Status    `json:"status"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Worker owns the task table and the bounded, rate-limited pool that drains
// it.
type Worker struct {
	lister  Lister
	fetcher Fetcher
	logger  *logrus.Entry

	concurrency int
	minInterval time.Duration

	mu    sync.Mutex
	tasks map[string]*Task
}

// New builds a Worker. opsPerSecond <= 0 means unlimited.
func New(lister Lister, fetcher Fetcher, logger *logrus.Entry, concurrency, opsPerSecond int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	minInterval := time.Duration(0)
	if opsPerSecond > 0 {
		minInterval = time.Second / time.Duration(opsPerSecond)
	}
	return &Worker{
		lister:      lister,
		fetcher:     fetcher,
		logger:      logger,
		concurrency: concurrency,
		minInterval: minInterval,
		tasks:       make(map[string]*Task),
	}
}

// Submit enqueues a prewarm task for bucket/prefix and starts it on a
// detached goroutine, returning immediately with the task's id.
func (w *Worker) Submit(bucket, prefix string) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	now := time.Now()
	task := &Task{
		ID:        id,
		Bucket:    bucket,
		Prefix:    prefix,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}

	w.mu.Lock()
	w.tasks[id] = task
	w.mu.Unlock()

	go w.run(ctx, task)

	return id
}

func (w *Worker) run(ctx context.Context, task *Task) {
	w.setStatus(task, StatusRunning, "")

	keys, err := w.lister.List(ctx, task.Bucket, task.Prefix)
	if err != nil {
		w.setStatus(task, StatusFailed, err.Error())
		return
	}

	w.mu.Lock()
	task.Total = len(keys)
	task.UpdatedAt = time.Now()
	w.mu.Unlock()

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	var lastDispatch time.Time
	var dispatchMu sync.Mutex

	for _, key := range keys {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.setStatus(task, StatusCancelled, "")
			return
		case sem <- struct{}{}:
		}

		if w.minInterval > 0 {
			dispatchMu.Lock()
			if wait := w.minInterval - time.Since(lastDispatch); wait > 0 {
				time.Sleep(wait)
			}
			lastDispatch = time.Now()
			dispatchMu.Unlock()
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()

			// A fetch already dispatched runs to completion even if the task
			// is cancelled; cancellation only stops new dispatches.
			if err := w.fetcher.Fetch(context.WithoutCancel(ctx), task.Bucket, key); err != nil {
				w.logger.WithError(err).WithFields(logrus.Fields{"bucket": task.Bucket, "key": key}).Warn("prewarm fetch failed")
				w.bump(task, false)
				return
			}
			w.bump(task, true)
		}(key)
	}

	wg.Wait()

	if ctx.Err() != nil {
		w.setStatus(task, StatusCancelled, "")
		return
	}
	w.setStatus(task, StatusCompleted, "")
}

func (w *Worker) bump(task *Task, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		task.Completed++
	} else {
		task.Failed++
	}
	task.UpdatedAt = time.Now()
}

func (w *Worker) setStatus(task *Task, status Status, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	task.Status = status
	task.Error = errMsg
	task.UpdatedAt = time.Now()
}

// Status returns a snapshot of the named task, or false if unknown.
func (w *Worker) Status(id string) (Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	task, ok := w.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(task), true
}

// Cancel requests cancellation of a running task; it is idempotent.
func (w *Worker) Cancel(id string) bool {
	w.mu.Lock()
	task, ok := w.tasks[id]
	w.mu.Unlock()
	if !ok {
		return false
	}
	task.cancel()
	return true
}

func snapshotOf(task *Task) Snapshot {
	return Snapshot{
		ID:        task.ID,
		Bucket:    task.Bucket,
		Prefix:    task.Prefix,
		Status:    task.Status,
		Total:     task.Total,
		Completed: task.Completed,
		Failed:    task.Failed,
		Error:     task.Error,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
}
