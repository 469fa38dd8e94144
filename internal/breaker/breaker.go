// Package breaker implements the per-operation circuit breaker described in
// spec.md §4.1, grounded on the teacher's
// infrastructure/publishing.CircuitBreaker state machine (closed/open/
// half-open with failure/success thresholds and a timeout-gated
// half-open trial), generalized from a fixed FailureThreshold/
// SuccessThreshold pair to spec.md's single-trial half-open rule and from a
// target-name map owned by the publishing queue to a standalone Registry
// keyed by op_key.
package breaker

import (
	"sync"
	"time"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/sdkerrors"
)

// State is the circuit breaker's current gate position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds the tunables spec.md §4.1 names, with its defaults.
type Config struct {
	FailureThreshold int           // default 3
	ResetTimeout     time.Duration // default 30s
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, ResetTimeout: 30 * time.Second}
}

// Metrics is the optional sink a Breaker reports state transitions to. A nil
// Metrics is safe: every method on the breaker nil-checks before calling
// through, matching the teacher's PublishingMetrics nil-receiver-safe
// pattern.
type Metrics interface {
	RecordTrip(opKey string)
	RecordRecovery(opKey string)
	SetState(opKey string, state State)
}

// Breaker is a single op_key's state machine. All transitions are made
// under mu so concurrent callers on the same op_key observe atomic state
// changes; different op_keys never contend with each other because each
// gets its own Breaker instance from the Registry.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	clk           clock.Clock
	opKey         string
	metrics       Metrics
	state         State
	failures      int
	openUntil     time.Time
	trialInFlight bool // guards half_open's "exactly one trial call" rule
}

func newBreaker(opKey string, cfg Config, clk clock.Clock, metrics Metrics) *Breaker {
	b := &Breaker{cfg: cfg, clk: clk, opKey: opKey, metrics: metrics, state: StateClosed}
	if b.metrics != nil {
		b.metrics.SetState(opKey, StateClosed)
	}
	return b
}

// State returns the breaker's current state, applying the open->half_open
// timeout transition as a side effect if the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.state == StateOpen && !b.clk.Now().Before(b.openUntil) {
		b.state = StateHalfOpen
	}
}

// Execute runs f if the circuit permits it. If the circuit is open (and the
// reset timeout has not elapsed) it returns a CircuitOpen error, or the
// fallback's result if one is supplied, per spec.md §4.1's execute
// contract. Exactly one trial call is allowed while half-open.
func Execute[T any](b *Breaker, f func() (T, error), fallback func() (T, error)) (T, error) {
	b.mu.Lock()
	b.maybeTransitionToHalfOpenLocked()
	// In half_open, only the first caller gets the trial slot; any
	// concurrent caller is short-circuited exactly as if the circuit were
	// still open, so at most one trial call is ever in flight.
	if b.state == StateOpen || (b.state == StateHalfOpen && b.trialInFlight) {
		b.mu.Unlock()
		if fallback != nil {
			return fallback()
		}
		var zero T
		return zero, sdkerrors.New(sdkerrors.KindCircuitOpen, "circuit open for "+b.opKey)
	}
	if b.state == StateHalfOpen {
		b.trialInFlight = true
	}
	b.mu.Unlock()

	result, err := f()
	if err != nil {
		b.RecordFailure()
		if fallback != nil {
			return fallback()
		}
		return result, err
	}
	b.RecordSuccess()
	return result, nil
}

// Allow reports whether a call may currently proceed, without running
// anything. Callers that need the "try, then record" shape by hand use
// Allow plus RecordSuccess/RecordFailure instead of the generic Execute
// helper.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.state != StateOpen
}

// RecordSuccess reports a successful call. In closed state it resets the
// failure counter; in half_open state the single trial succeeded, so the
// circuit closes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordSuccessLocked()
}

func (b *Breaker) recordSuccessLocked() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.trialInFlight = false
		if b.metrics != nil {
			b.metrics.RecordRecovery(b.opKey)
			b.metrics.SetState(b.opKey, StateClosed)
		}
	}
}

// RecordFailure reports a failed call. In closed state it increments the
// failure counter, tripping the breaker once FailureThreshold is reached.
// In half_open state the trial failed, so the circuit reopens with a fresh
// open_until.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordFailureLocked()
}

func (b *Breaker) recordFailureLocked() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openUntil = b.clk.Now().Add(b.cfg.ResetTimeout)
			if b.metrics != nil {
				b.metrics.RecordTrip(b.opKey)
				b.metrics.SetState(b.opKey, StateOpen)
			}
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openUntil = b.clk.Now().Add(b.cfg.ResetTimeout)
		b.trialInFlight = false
		if b.metrics != nil {
			b.metrics.SetState(b.opKey, StateOpen)
		}
	}
}


// Reset forces the breaker back to closed, discarding any accumulated
// failure count. Used by tests and by an explicit operator override.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	if b.metrics != nil {
		b.metrics.SetState(b.opKey, StateClosed)
	}
}

// Registry is the concurrent map of op_key to Breaker spec.md §4.1 and §9
// call for ("the registry for Circuit Breakers is a concurrent map keyed by
// op_key"). It is grounded on the teacher's
// PublishingQueue.getCircuitBreaker double-checked-locking lazy-create
// pattern, lifted out of the queue into its own reusable type.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	clk      clock.Clock
	metrics  Metrics
}

// NewRegistry creates a Registry that lazily creates a Breaker per op_key
// using cfg and clk.
func NewRegistry(cfg Config, clk clock.Clock, metrics Metrics) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		clk:      clk,
		metrics:  metrics,
	}
}

// Get returns the shared Breaker for opKey, creating it on first use.
func (r *Registry) Get(opKey string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[opKey]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[opKey]; ok {
		return b
	}
	b = newBreaker(opKey, r.cfg, r.clk, r.metrics)
	r.breakers[opKey] = b
	return b
}

// Snapshot returns the current state of every op_key known to the
// registry, for diagnostics/health endpoints.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}
