// Package replica implements priority-ordered replica selection and a
// per-replica circuit breaker.
package replica

import (
	"sort"
	"sync"
	"time"
)

// State is one state of a replica's circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config parametrizes a single replica's breaker.
type Config struct {
	Endpoint         string
	Region           string
	AccessKey        string
	SecretKey        string
	Priority         int
	FailureThreshold int
	Cooldown         time.Duration
	SuccessThreshold int
}

// Replica is one endpoint+credential pair with its own breaker state.
type Replica struct {
	Config

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	openedAt         time.Time
	halfOpenAdmitted bool
}

// New builds a Replica in the Closed state, applying sane defaults for any
// zero-valued breaker parameter.
func New(cfg Config) *Replica {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &Replica{Config: cfg, state: Closed}
}

// State returns the replica's current breaker state, applying the
// cooldown-elapsed Open->HalfOpen transition if due.
func (r *Replica) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeTransitionToHalfOpenLocked()
	return r.state
}

func (r *Replica) maybeTransitionToHalfOpenLocked() {
	if r.state == Open && time.Since(r.openedAt) >= r.Cooldown {
		r.state = HalfOpen
		r.halfOpenAdmitted = false
		r.successCount = 0
	}
}

// cooldownRemaining returns how much longer until this replica's cooldown
// elapses; zero or negative means it is eligible now.
func (r *Replica) cooldownRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Open {
		return 0
	}
	return r.Cooldown - time.Since(r.openedAt)
}

// AdmitHalfOpenTrial reports whether the caller may send the single
// in-flight half-open trial request for this replica. Only one trial is
// admitted at a time.
func (r *Replica) AdmitHalfOpenTrial() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeTransitionToHalfOpenLocked()
	if r.state != HalfOpen || r.halfOpenAdmitted {
		return false
	}
	r.halfOpenAdmitted = true
	return true
}

// RecordSuccess resets the failure counter in Closed state, or advances the
// half-open trial toward closing.
func (r *Replica) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Closed:
		r.failureCount = 0
	case HalfOpen:
		r.successCount++
		if r.successCount >= r.SuccessThreshold {
			r.state = Closed
			r.failureCount = 0
			r.successCount = 0
			r.halfOpenAdmitted = false
		}
	}
}

// RecordFailure increments the failure counter and opens the breaker once
// the threshold is reached; a half-open trial failure reopens immediately.
func (r *Replica) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Closed:
		r.failureCount++
		if r.failureCount >= r.FailureThreshold {
			r.state = Open
			r.openedAt = time.Now()
		}
	case HalfOpen:
		r.state = Open
		r.openedAt = time.Now()
		r.halfOpenAdmitted = false
		r.successCount = 0
	}
}

// Selector chooses among a bucket's priority-ordered replicas.
type Selector struct {
	replicas []*Replica
}

// NewSelector sorts replicas by ascending priority (lower = preferred).
func NewSelector(replicas []*Replica) *Selector {
	sorted := make([]*Replica, len(replicas))
	copy(sorted, replicas)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Selector{replicas: sorted}
}

// Select returns the highest-priority replica whose breaker is not Open. If
// every replica is Open, it returns the one closest to cooldown expiry and,
// if it admits the trial, the caller should treat this as a half-open
// attempt; ok is false only when there are no replicas at all.
func (s *Selector) Select() (replica *Replica, halfOpenTrial bool, ok bool) {
	if len(s.replicas) == 0 {
		return nil, false, false
	}

	for _, r := range s.replicas {
		if r.State() != Open {
			return r, r.State() == HalfOpen, true
		}
	}

	best := s.replicas[0]
	bestRemaining := best.cooldownRemaining()
	for _, r := range s.replicas[1:] {
		if remaining := r.cooldownRemaining(); remaining < bestRemaining {
			best = r
			bestRemaining = remaining
		}
	}
	return best, best.AdmitHalfOpenTrial(), true
}

// upstreamFailureStatuses is the configurable default 5xx subset that counts
// as a replica failure: 500, 502, 503, 504. 501 and 505 indicate a protocol
// mismatch rather than replica unhealthiness and are excluded.
var upstreamFailureStatuses = map[int]bool{
	500: true,
	502: true,
	503: true,
	504: true,
}

// CountsAsFailure reports whether an upstream HTTP status code should be
// accounted as a replica failure for breaker purposes.
func CountsAsFailure(status int) bool {
	return upstreamFailureStatuses[status]
}
