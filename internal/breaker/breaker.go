// Package breaker implements a named circuit breaker registry. Each named
// breaker tracks a sliding window of call outcomes and trips from CLOSED to
// OPEN when the failure rate or the slow-call rate over that window reaches
// its configured threshold, after at least a minimum number of calls has
// been observed.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit-breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Policy is the tuple of thresholds and windows governing one named
// breaker, per §4.4.
type Policy struct {
	Name             string
	FailureRate      float64 // fraction, e.g. 0.5 for 50%
	OpenWait         time.Duration
	Window           int // number of calls retained in the sliding window
	MinCalls         int
	HalfOpenProbes   int
	SlowRate         float64
	SlowThreshold    time.Duration
}

// DefaultPolicies returns the three named policies from §4.4, keyed by name.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"default": {
			Name: "default", FailureRate: 0.5, OpenWait: 30 * time.Second, Window: 10,
			MinCalls: 5, HalfOpenProbes: 3, SlowRate: 0.5, SlowThreshold: 2 * time.Second,
		},
		"redis": {
			Name: "redis", FailureRate: 0.7, OpenWait: 15 * time.Second, Window: 20,
			MinCalls: 10, HalfOpenProbes: 5, SlowRate: 0.6, SlowThreshold: 1 * time.Second,
		},
		"downstream": {
			Name: "downstream", FailureRate: 0.6, OpenWait: 45 * time.Second, Window: 15,
			MinCalls: 8, HalfOpenProbes: 4, SlowRate: 0.7, SlowThreshold: 5 * time.Second,
		},
	}
}

// outcome is a single recorded call result in the sliding window.
type outcome struct {
	failed bool
	slow   bool
}

// Breaker is a single named circuit breaker instance.
type Breaker struct {
	policy Policy

	mu                sync.Mutex
	state             State
	ring              []outcome
	pos               int
	filled            int
	openedAt          time.Time
	halfOpenCalls     int
	halfOpenCompleted int
	halfOpenFails     int
}

func newBreaker(p Policy) *Breaker {
	return &Breaker{
		policy: p,
		state:  Closed,
		ring:   make([]outcome, p.Window),
	}
}

// Allow reports whether a call may proceed. When it returns false, the
// caller must treat this as a breaker-open rejection (apperr.BreakerOpen)
// and must not attempt the underlying operation.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.policy.OpenWait {
			b.state = HalfOpen
			// This call is the first probe.
			b.halfOpenCalls = 1
			b.halfOpenCompleted = 0
			b.halfOpenFails = 0
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenCalls >= b.policy.HalfOpenProbes {
			return false
		}
		b.halfOpenCalls++
		return true
	}
	return false
}

// Record reports the outcome of a call that Allow permitted: whether it
// failed, and whether it was slow (took at least the policy's slow
// threshold), which also counts toward the slow-rate trip condition.
func (b *Breaker) Record(failed, slow bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenCompleted++
		if failed {
			b.halfOpenFails++
			b.trip()
			return
		}
		if b.halfOpenCompleted >= b.policy.HalfOpenProbes && b.halfOpenFails == 0 {
			b.close()
		}
		return
	case Open:
		// Stray completion of a call admitted just before the breaker
		// tripped; it is still pushed into the window and can re-trip
		// the breaker, restarting the open wait. close() clears the
		// window, so it does not carry over into CLOSED.
	}

	b.push(outcome{failed: failed, slow: slow})
	if b.filled < b.policy.MinCalls {
		return
	}
	failRate, slowRate := b.rates()
	if failRate >= b.policy.FailureRate || slowRate >= b.policy.SlowRate {
		b.trip()
	}
}

func (b *Breaker) push(o outcome) {
	b.ring[b.pos] = o
	b.pos = (b.pos + 1) % len(b.ring)
	if b.filled < len(b.ring) {
		b.filled++
	}
}

func (b *Breaker) rates() (failRate, slowRate float64) {
	if b.filled == 0 {
		return 0, 0
	}
	var fails, slows int
	for i := 0; i < b.filled; i++ {
		if b.ring[i].failed {
			fails++
		}
		if b.ring[i].slow {
			slows++
		}
	}
	return float64(fails) / float64(b.filled), float64(slows) / float64(b.filled)
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
}

func (b *Breaker) close() {
	b.state = Closed
	b.pos = 0
	b.filled = 0
	for i := range b.ring {
		b.ring[i] = outcome{}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the policy name this breaker was registered under.
func (b *Breaker) Name() string { return b.policy.Name }

// Do runs fn if the breaker allows it, recording success/failure and
// slowness based on fn's outcome and elapsed time. A breaker-open
// rejection is signalled by ran=false, with fn not called.
func (b *Breaker) Do(fn func() error) (ran bool, err error) {
	if !b.Allow() {
		return false, nil
	}
	start := time.Now()
	err = fn()
	elapsed := time.Since(start)
	b.Record(err != nil, elapsed >= b.policy.SlowThreshold)
	return true, err
}

// Registry is a process-wide named map of breakers, initialized at startup
// with the configured policies. Lookups never fail: an unregistered name
// returns the "default" breaker.
type Registry struct {
	breakers map[string]*Breaker
	fallback *Breaker
}

// NewRegistry builds a registry from policies. The "default" entry is used
// as the fallback for unknown names; when policies has none, a breaker with
// the §4.4 default policy is registered under that name.
func NewRegistry(policies map[string]Policy) *Registry {
	r := &Registry{breakers: make(map[string]*Breaker, len(policies))}
	for name, p := range policies {
		p.Name = name
		r.breakers[name] = newBreaker(p)
	}
	if d, ok := r.breakers["default"]; ok {
		r.fallback = d
	} else {
		d := newBreaker(Policy{Name: "default", FailureRate: 0.5, OpenWait: 30 * time.Second, Window: 10, MinCalls: 5, HalfOpenProbes: 3, SlowRate: 0.5, SlowThreshold: 2 * time.Second})
		r.breakers["default"] = d
		r.fallback = d
	}
	return r
}

// Breaker returns the named breaker, or the default if name is unknown.
func (r *Registry) Breaker(name string) *Breaker {
	if b, ok := r.breakers[name]; ok {
		return b
	}
	return r.fallback
}
