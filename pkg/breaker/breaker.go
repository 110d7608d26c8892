// Package breaker implements the Circuit Breaker (K7): per-dependency
// CLOSED/OPEN/HALF_OPEN state with compare-and-swap updates and no locks
// on the fast path (spec §4.7, §5).
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// State is the breaker's current mode for a dependency.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// snapshot is the immutable state swapped via atomic.Value on every
// transition, so reads on the fast path never take a lock.
type snapshot struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenCalls       int
}

// Config parameterizes one dependency's breaker (spec §4.7).
type Config struct {
	FailureThreshold   int
	ResetTimeout       time.Duration
	HalfOpenMaxCalls   int
}

// CircuitOpenError is returned when a call is rejected fail-fast because
// the breaker is OPEN.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q, retry after %s", e.Dependency, e.RetryAfter)
}

// Unwrap lets callers use errors.Is(err, ErrNotAllowed) without caring
// about the dependency-specific details carried on CircuitOpenError.
func (e *CircuitOpenError) Unwrap() error {
	return ErrNotAllowed
}

// ErrNotAllowed is the sentinel all CircuitOpenError values wrap.
var ErrNotAllowed = errors.New("breaker: call not permitted in current state")

// TransitionObserver is notified of every state change, letting callers
// audit-log breaker events (spec §4.7: "Circuit breaker events are
// audit-logged").
type TransitionObserver func(dependency string, from, to State)

// Breaker tracks circuit state for a single named outbound dependency.
type Breaker struct {
	name     string
	cfg      Config
	value    atomic.Value // holds snapshot
	observer TransitionObserver
	now      func() time.Time
}

// New constructs a Breaker for dependency name.
func New(name string, cfg Config, observer TransitionObserver) *Breaker {
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	b := &Breaker{name: name, cfg: cfg, observer: observer, now: time.Now}
	b.value.Store(snapshot{state: Closed})
	return b
}

func (b *Breaker) load() snapshot {
	return b.value.Load().(snapshot)
}

// State returns the breaker's current state, re-evaluating an OPEN
// breaker's reset timeout so a caller observing state doesn't need to
// separately call Allow.
func (b *Breaker) State() State {
	cur := b.load()
	if cur.state == Open && b.now().Sub(cur.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return cur.state
}

// Allow attempts to reserve a call slot, transitioning OPEN -> HALF_OPEN
// when the reset timeout has elapsed. Returns an error (CircuitOpenError)
// when the call must fail fast.
func (b *Breaker) Allow() error {
	for {
		cur := b.load()
		switch cur.state {
		case Closed:
			return nil
		case Open:
			if b.now().Sub(cur.openedAt) < b.cfg.ResetTimeout {
				retryAfter := cur.openedAt.Add(b.cfg.ResetTimeout).Sub(b.now())
				return &CircuitOpenError{Dependency: b.name, RetryAfter: retryAfter}
			}
			next := snapshot{state: HalfOpen, openedAt: cur.openedAt, halfOpenCalls: 1}
			if b.value.CompareAndSwap(cur, next) {
				b.notify(cur.state, HalfOpen)
				return nil
			}
			// lost the race; retry from the top with fresh state.
		case HalfOpen:
			if cur.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
				return &CircuitOpenError{Dependency: b.name, RetryAfter: b.cfg.ResetTimeout}
			}
			next := cur
			next.halfOpenCalls++
			if b.value.CompareAndSwap(cur, next) {
				return nil
			}
		}
	}
}

func (b *Breaker) notify(from, to State) {
	if b.observer != nil {
		b.observer(b.name, from, to)
	}
}

// ReportSuccess records a successful call. Any probe success in HALF_OPEN
// closes the circuit with the failure counter reset (spec §4.7).
func (b *Breaker) ReportSuccess() {
	for {
		cur := b.load()
		if cur.state == Closed && cur.consecutiveFailures == 0 {
			return
		}
		next := snapshot{state: Closed}
		if b.value.CompareAndSwap(cur, next) {
			if cur.state != Closed {
				b.notify(cur.state, Closed)
			}
			return
		}
	}
}

// ReportFailure records a failed call. In CLOSED, failures accumulate
// until FailureThreshold opens the circuit; any failure while HALF_OPEN
// reopens it immediately with a fresh openedAt.
func (b *Breaker) ReportFailure() {
	for {
		cur := b.load()
		switch cur.state {
		case Closed:
			failures := cur.consecutiveFailures + 1
			if failures >= b.cfg.FailureThreshold {
				next := snapshot{state: Open, openedAt: b.now()}
				if b.value.CompareAndSwap(cur, next) {
					b.notify(Closed, Open)
					return
				}
				continue
			}
			next := snapshot{state: Closed, consecutiveFailures: failures}
			if b.value.CompareAndSwap(cur, next) {
				return
			}
		case HalfOpen:
			next := snapshot{state: Open, openedAt: b.now()}
			if b.value.CompareAndSwap(cur, next) {
				b.notify(HalfOpen, Open)
				return
			}
		case Open:
			return
		}
	}
}

// Wrap calls fn iff Allow permits it, reporting success/failure back to
// the breaker based on fn's error return. This is the integration point
// the Trust Sidecar and any other kernel-mediated outbound call use (spec
// §4.7: "The Trust Sidecar and any kernel-mediated outbound call wraps its
// transport in a breaker").
func (b *Breaker) Wrap(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		b.ReportFailure()
		return err
	}
	b.ReportSuccess()
	return nil
}
