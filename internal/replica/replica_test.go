package replica

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	r := New(Config{FailureThreshold: 3, Cooldown: 10 * time.Millisecond})
	r.RecordFailure()
	r.RecordFailure()
	if r.State() != Closed {
		t.Fatalf("expected still closed after 2 failures")
	}
	r.RecordFailure()
	if r.State() != Open {
		t.Fatalf("expected open after reaching threshold")
	}
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	r := New(Config{FailureThreshold: 1, Cooldown: 5 * time.Millisecond})
	r.RecordFailure()
	if r.State() != Open {
		t.Fatalf("expected open")
	}
	time.Sleep(10 * time.Millisecond)
	if r.State() != HalfOpen {
		t.Fatalf("expected half-open after cooldown elapsed")
	}
}

func TestBreakerClosesOnHalfOpenSuccess(t *testing.T) {
	r := New(Config{FailureThreshold: 1, Cooldown: 5 * time.Millisecond, SuccessThreshold: 1})
	r.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	r.State() // trigger transition
	r.RecordSuccess()
	if r.State() != Closed {
		t.Fatalf("expected closed after half-open success")
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	r := New(Config{FailureThreshold: 1, Cooldown: 5 * time.Millisecond})
	r.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	r.State()
	r.RecordFailure()
	if r.State() != Open {
		t.Fatalf("expected reopened after half-open failure")
	}
}

func TestOnlyOneHalfOpenTrialAdmitted(t *testing.T) {
	r := New(Config{FailureThreshold: 1, Cooldown: 5 * time.Millisecond})
	r.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	if !r.AdmitHalfOpenTrial() {
		t.Fatalf("expected first trial to be admitted")
	}
	if r.AdmitHalfOpenTrial() {
		t.Fatalf("expected second concurrent trial to be rejected")
	}
}

func TestSelectorPrefersLowerPriority(t *testing.T) {
	primary := New(Config{Priority: 0})
	backup := New(Config{Priority: 1})
	sel := NewSelector([]*Replica{backup, primary})
	chosen, halfOpen, ok := sel.Select()
	if !ok || chosen != primary || halfOpen {
		t.Fatalf("expected primary replica selected, got %+v halfOpen=%v ok=%v", chosen, halfOpen, ok)
	}
}

func TestSelectorFallsBackWhenPrimaryOpen(t *testing.T) {
	primary := New(Config{Priority: 0, FailureThreshold: 1, Cooldown: time.Hour})
	backup := New(Config{Priority: 1})
	primary.RecordFailure()
	sel := NewSelector([]*Replica{primary, backup})
	chosen, _, ok := sel.Select()
	if !ok || chosen != backup {
		t.Fatalf("expected backup replica selected, got %+v", chosen)
	}
}

func TestCountsAsFailure(t *testing.T) {
	if !CountsAsFailure(503) {
		t.Fatalf("expected 503 to count as failure")
	}
	if CountsAsFailure(501) {
		t.Fatalf("expected 501 to not count as failure")
	}
	if CountsAsFailure(404) {
		t.Fatalf("expected 404 to not count as failure")
	}
}
