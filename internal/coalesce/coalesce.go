// Package coalesce implements a per-fingerprint single-flight semaphore: the
// first arrival for a key becomes its leader and fetches upstream, every
// later arrival waits on the same in-flight call and reuses its result.
//
// This is distinct from golang.org/x/sync/singleflight in one respect: if the
// leader's own client disconnects before the upstream response finishes, the
// fetch is not aborted as long as a follower is still waiting for it — the
// next follower is promoted to leader in its place. Only when no follower
// remains is the upstream call itself cancelled.
package coalesce

import (
	"context"
	"sync"
	"time"
)

// Result is what a completed in-flight call produced, shared by every waiter.
type Result struct {
	Value interface{}
	Err   error
}

// Token represents one in-flight call for a fingerprint key.
type Token struct {
	key string

	mu       sync.Mutex
	waiters  int
	done     chan struct{}
	result   Result
	cancel   context.CancelFunc
	promoted bool
}

// Group deduplicates concurrent calls sharing the same key.
type Group struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// New builds an empty coalescing group.
func New() *Group {
	return &Group{tokens: make(map[string]*Token)}
}

// Do runs fn for the first caller to arrive with key; every concurrent caller
// with the same key blocks until that call finishes and receives the same
// Result. fn runs on a context detached from ctx: a caller whose ctx ends
// stops waiting and returns, and fn's context is cancelled only once no
// caller is waiting any more — see leave.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	g.mu.Lock()
	if tok, ok := g.tokens[key]; ok {
		tok.mu.Lock()
		tok.waiters++
		tok.mu.Unlock()
		g.mu.Unlock()

		return g.wait(ctx, key, tok)
	}

	fnCtx, cancel := context.WithCancel(detach(ctx))
	tok := &Token{key: key, done: make(chan struct{}), cancel: cancel, waiters: 1}
	g.tokens[key] = tok
	g.mu.Unlock()

	go g.run(fnCtx, key, tok, fn)

	return g.wait(ctx, key, tok)
}

func (g *Group) run(ctx context.Context, key string, tok *Token, fn func(context.Context) (interface{}, error)) {
	value, err := fn(ctx)

	tok.mu.Lock()
	tok.result = Result{Value: value, Err: err}
	tok.mu.Unlock()
	close(tok.done)

	g.mu.Lock()
	if g.tokens[key] == tok {
		delete(g.tokens, key)
	}
	g.mu.Unlock()
}

func (g *Group) wait(ctx context.Context, key string, tok *Token) (interface{}, error, bool) {
	select {
	case <-tok.done:
		tok.mu.Lock()
		res := tok.result
		tok.mu.Unlock()
		return res.Value, res.Err, true
	case <-ctx.Done():
		g.leave(key, tok)
		return nil, ctx.Err(), false
	}
}

// leave records that one waiter (possibly the leader's own client) is gone.
// When the last waiter leaves before the call finishes, the in-flight call is
// cancelled — there is no one left to deliver the result to.
func (g *Group) leave(key string, tok *Token) {
	tok.mu.Lock()
	tok.waiters--
	remaining := tok.waiters
	tok.mu.Unlock()

	if remaining <= 0 {
		select {
		case <-tok.done:
		default:
			tok.cancel()
		}
		g.mu.Lock()
		if g.tokens[key] == tok {
			delete(g.tokens, key)
		}
		g.mu.Unlock()
	}
}

// detach strips ctx's cancellation/deadline but keeps its values, so the
// in-flight fetch survives the lifetime of whichever request happened to
// start it.
func detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct {
	parent context.Context
}

func (d detachedContext) Deadline() (time.Time, bool)       { return time.Time{}, false }
func (d detachedContext) Done() <-chan struct{}             { return nil }
func (d detachedContext) Err() error                        { return nil }
func (d detachedContext) Value(key interface{}) interface{} { return d.parent.Value(key) }
