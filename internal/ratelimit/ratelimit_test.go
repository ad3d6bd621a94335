package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestBucketAllowsWithinBurst(t *testing.T) {
	b := newBucket(10, 2)
	ok1, _ := b.take()
	ok2, _ := b.take()
	if !ok1 || !ok2 {
		t.Fatalf("expected both requests within burst to be allowed")
	}
	ok3, wait := b.take()
	if ok3 {
		t.Fatalf("expected third request to exceed burst")
	}
	if wait <= 0 {
		t.Fatalf("expected a positive retry-after")
	}
}

func TestBucketRefillsOverTime(t *testing.T) {
	b := newBucket(1000, 1)
	ok1, _ := b.take()
	if !ok1 {
		t.Fatalf("expected first take to succeed")
	}
	time.Sleep(5 * time.Millisecond)
	ok2, _ := b.take()
	if !ok2 {
		t.Fatalf("expected refill to allow a second take shortly after")
	}
}

func TestLimiterZeroRateGlobalScopeIsUnlimited(t *testing.T) {
	l := New(ScopeConfig{RequestsPerSecond: 0, Burst: 1}, ScopeConfig{RequestsPerSecond: 100, Burst: 100}, ScopeConfig{}, nil)
	d1 := l.Allow("1.1.1.1", "prod", "")
	if !d1.Allowed {
		t.Fatalf("expected first request allowed")
	}
	d2 := l.Allow("1.1.1.1", "prod", "")
	if !d2.Allowed {
		t.Fatalf("expected zero-rate global (unlimited sentinel) to allow all; got blocked at scope %v", d2.Scope)
	}
}

func TestLimiterPerIPScopeBlocks(t *testing.T) {
	l := New(ScopeConfig{RequestsPerSecond: 1000, Burst: 1000}, ScopeConfig{RequestsPerSecond: 1, Burst: 1}, ScopeConfig{}, nil)
	d1 := l.Allow("1.1.1.1", "", "")
	d2 := l.Allow("1.1.1.1", "", "")
	if !d1.Allowed {
		t.Fatalf("expected first IP request allowed")
	}
	if d2.Allowed {
		t.Fatalf("expected second IP request blocked")
	}
	if d2.Scope != ScopeIP {
		t.Fatalf("expected block to be attributed to ScopeIP, got %v", d2.Scope)
	}
}

func TestLimiterPerBucketUsesBucketConfig(t *testing.T) {
	l := New(ScopeConfig{RequestsPerSecond: 1000, Burst: 1000}, ScopeConfig{RequestsPerSecond: 1000, Burst: 1000}, ScopeConfig{}, map[string]ScopeConfig{
		"tight": {RequestsPerSecond: 1, Burst: 1},
	})
	d1 := l.Allow("1.1.1.1", "tight", "")
	d2 := l.Allow("2.2.2.2", "tight", "")
	if !d1.Allowed || d2.Allowed {
		t.Fatalf("expected per-bucket cap to block the second distinct-IP request")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 1.1.1.1")
	r.RemoteAddr = "2.2.2.2:1234"
	if ip := ClientIP(r); ip != "9.9.9.9" {
		t.Fatalf("expected 9.9.9.9, got %s", ip)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "2.2.2.2:1234"
	if ip := ClientIP(r); ip != "2.2.2.2" {
		t.Fatalf("expected 2.2.2.2, got %s", ip)
	}
}
