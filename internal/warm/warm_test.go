package warm

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeLister struct {
	keys []string
	err  error
}

func (f *fakeLister) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	return f.keys, f.err
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
	fail    map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[key] {
		return errors.New("boom")
	}
	f.fetched = append(f.fetched, key)
	return nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func waitForStatus(t *testing.T, w *Worker, id string, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := w.Status(id)
		if ok && (snap.Status == want || snap.Status == StatusFailed || snap.Status == StatusCancelled) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for task %s to reach status %s", id, want)
	return Snapshot{}
}

func TestSubmitCompletesAllKeys(t *testing.T) {
	lister := &fakeLister{keys: []string{"a", "b", "c"}}
	fetcher := &fakeFetcher{fail: map[string]bool{}}
	w := New(lister, fetcher, testLogger(), 2, 0)

	id := w.Submit("prod", "/")
	snap := waitForStatus(t, w, id, StatusCompleted)

	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", snap.Status, snap.Error)
	}
	if snap.Completed != 3 || snap.Total != 3 {
		t.Fatalf("expected 3/3 completed, got %+v", snap)
	}
}

func TestSubmitTracksFailures(t *testing.T) {
	lister := &fakeLister{keys: []string{"a", "b"}}
	fetcher := &fakeFetcher{fail: map[string]bool{"b": true}}
	w := New(lister, fetcher, testLogger(), 2, 0)

	id := w.Submit("prod", "/")
	snap := waitForStatus(t, w, id, StatusCompleted)

	if snap.Completed != 1 || snap.Failed != 1 {
		t.Fatalf("expected 1 completed and 1 failed, got %+v", snap)
	}
}

func TestListFailureMarksTaskFailed(t *testing.T) {
	lister := &fakeLister{err: errors.New("list boom")}
	fetcher := &fakeFetcher{fail: map[string]bool{}}
	w := New(lister, fetcher, testLogger(), 2, 0)

	id := w.Submit("prod", "/")
	snap := waitForStatus(t, w, id, StatusFailed)

	if snap.Status != StatusFailed || snap.Error == "" {
		t.Fatalf("expected failed status with error message, got %+v", snap)
	}
}

func TestCancelStopsInFlightTask(t *testing.T) {
	keys := make([]string, 50)
	for i := range keys {
		keys[i] = string(rune('a' + i%26))
	}
	lister := &fakeLister{keys: keys}
	var fetchCount atomic.Int64
	fetcher := fetcherFunc(func(ctx context.Context, bucket, key string) error {
		fetchCount.Add(1)
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return ctx.Err()
	})

	w := New(lister, fetcher, testLogger(), 1, 0)
	id := w.Submit("prod", "/")

	time.Sleep(20 * time.Millisecond)
	if !w.Cancel(id) {
		t.Fatalf("expected cancel of known task to succeed")
	}

	snap := waitForStatus(t, w, id, StatusCancelled)
	if snap.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", snap.Status)
	}
	if int(fetchCount.Load()) >= len(keys) {
		t.Fatalf("expected cancellation to stop before fetching every key")
	}
}

func TestCancelUnknownTaskReturnsFalse(t *testing.T) {
	w := New(&fakeLister{}, &fakeFetcher{fail: map[string]bool{}}, testLogger(), 1, 0)
	if w.Cancel("does-not-exist") {
		t.Fatalf("expected cancel of unknown task to report false")
	}
}

type fetcherFunc func(ctx context.Context, bucket, key string) error

func (f fetcherFunc) Fetch(ctx context.Context, bucket, key string) error { return f(ctx, bucket, key) }
