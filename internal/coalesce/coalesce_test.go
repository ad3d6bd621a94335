package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	g := New()
	var calls atomic.Int64
	start := make(chan struct{})

	fn := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		<-start
		return "value", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]interface{}, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err, _ := g.Do(context.Background(), "k", fn)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", calls.Load())
	}
	for _, r := range results {
		if r != "value" {
			t.Fatalf("expected every waiter to receive the shared result, got %v", r)
		}
	}
}

func TestDoRunsSeparatelyForDifferentKeys(t *testing.T) {
	g := New()
	var calls atomic.Int64
	fn := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return "v", nil
	}

	if _, _, _ = g.Do(context.Background(), "a", fn); true {
	}
	if _, _, _ = g.Do(context.Background(), "b", fn); true {
	}

	if calls.Load() != 2 {
		t.Fatalf("expected independent keys to each run once, got %d", calls.Load())
	}
}

func TestLeaderDisconnectKeepsFetchForRemainingFollower(t *testing.T) {
	g := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64

	fn := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		close(started)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return "done", nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan struct {
		v   interface{}
		err error
	}, 1)
	go func() {
		v, err, _ := g.Do(leaderCtx, "k", fn)
		leaderDone <- struct {
			v   interface{}
			err error
		}{v, err}
	}()

	<-started

	followerDone := make(chan struct {
		v   interface{}
		err error
		ok  bool
	}, 1)
	go func() {
		v, err, ok := g.Do(context.Background(), "k", fn)
		followerDone <- struct {
			v   interface{}
			err error
			ok  bool
		}{v, err, ok}
	}()

	time.Sleep(10 * time.Millisecond)
	cancelLeader()

	select {
	case res := <-leaderDone:
		if res.err == nil {
			t.Fatalf("expected leader's own wait to observe cancellation")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for leader cancellation to resolve")
	}

	close(release)

	select {
	case res := <-followerDone:
		if !res.ok || res.v != "done" {
			t.Fatalf("expected surviving follower to receive the completed result, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for follower result")
	}

	if calls.Load() != 1 {
		t.Fatalf("expected the upstream call to run exactly once despite leader disconnect, got %d", calls.Load())
	}
}

func TestLastWaiterLeavingCancelsInFlightCall(t *testing.T) {
	g := New()
	started := make(chan struct{})
	var cancelled atomic.Bool

	fn := func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _, _ = g.Do(ctx, "k", fn)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sole waiter's cancellation to resolve")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cancelled.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected in-flight call to be cancelled once its only waiter left")
}
