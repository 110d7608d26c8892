// Package signal implements the Signal Subsystem (K2): POSIX-style
// lifecycle signals with maskable/unmaskable semantics, FIFO delivery
// within two priority classes, and a RUNNING/STOPPED/TERMINATED state
// machine per agent (spec §4.2).
package signal

import (
	"log"
	"sync"
)

// Kind enumerates the twelve signal kinds from spec §4.2.
type Kind int

const (
	SIGSTOP Kind = iota + 1
	SIGCONT
	SIGINT
	SIGKILL
	SIGTERM
	SIGUSR1
	SIGUSR2
	SIGPOLICY
	SIGTRUST
	SIGBUDGET
	SIGLOOP
	SIGDRIFT
)

func (k Kind) String() string {
	names := map[Kind]string{
		SIGSTOP: "SIGSTOP", SIGCONT: "SIGCONT", SIGINT: "SIGINT", SIGKILL: "SIGKILL",
		SIGTERM: "SIGTERM", SIGUSR1: "SIGUSR1", SIGUSR2: "SIGUSR2", SIGPOLICY: "SIGPOLICY",
		SIGTRUST: "SIGTRUST", SIGBUDGET: "SIGBUDGET", SIGLOOP: "SIGLOOP", SIGDRIFT: "SIGDRIFT",
	}
	if n, ok := names[k]; ok {
		return n
	}
	return "SIGUNKNOWN"
}

// Maskable reports whether k can be queued/suppressed within a Mask scope.
// SIGKILL, SIGPOLICY, and SIGTRUST are never maskable (spec §4.2).
func (k Kind) Maskable() bool {
	switch k {
	case SIGKILL, SIGPOLICY, SIGTRUST:
		return false
	default:
		return true
	}
}

// State is an agent's lifecycle state.
type State int

const (
	StateRunning State = iota
	StateStopped
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Signal is a single lifecycle control message.
type Signal struct {
	Kind    Kind
	Source  string
	Payload interface{}
}

// Handler processes a delivered signal. Handlers for maskable signals that
// panic are recovered and logged; the agent continues running. Handlers
// for unmaskable signals are never invoked — delivery of an unmaskable
// signal is itself the terminal action.
type Handler func(Signal)

// Recorder is the minimal interface the dispatcher needs from the Flight
// Recorder, kept narrow so pkg/signal doesn't need the full recorder API.
type Recorder interface {
	RecordTransition(agentID string, from, to State, sig Signal)
}

// nullRecorder is used when no Recorder is configured.
type nullRecorder struct{}

func (nullRecorder) RecordTransition(string, State, State, Signal) {}

// agentQueue holds an agent's pending signals and current state.
type agentQueue struct {
	mu           sync.Mutex
	state        State
	unmaskable   []Signal
	maskable     []Signal
	maskDepth    int
	maskedKinds  map[Kind]struct{}
	handlers     map[Kind]Handler
}

// Dispatcher routes signals to per-agent queues, enforcing FIFO-within-
// priority-class delivery and the RUNNING/STOPPED/TERMINATED state machine.
type Dispatcher struct {
	mu       sync.Mutex
	agents   map[string]*agentQueue
	recorder Recorder
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder attaches a Flight Recorder sink for state transitions.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{agents: make(map[string]*agentQueue), recorder: nullRecorder{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) queueFor(agentID string) *agentQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.agents[agentID]
	if !ok {
		q = &agentQueue{state: StateRunning, handlers: make(map[Kind]Handler)}
		d.agents[agentID] = q
	}
	return q
}

// OnSignal registers a handler for a maskable signal kind. Registering a
// handler for an unmaskable kind is a no-op: those are never delivered to
// handlers.
func (d *Dispatcher) OnSignal(agentID string, kind Kind, h Handler) {
	if !kind.Maskable() {
		return
	}
	q := d.queueFor(agentID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// State returns the agent's current lifecycle state.
func (d *Dispatcher) State(agentID string) State {
	q := d.queueFor(agentID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Send delivers sig to agentID. Unmaskable signals are handled
// synchronously and immediately regardless of any mask scope. Maskable
// signals are queued if the agent is inside a Mask scope that covers their
// kind; otherwise they run immediately.
func (d *Dispatcher) Send(agentID string, sig Signal) {
	q := d.queueFor(agentID)

	if !sig.Kind.Maskable() {
		d.deliverUnmaskable(agentID, q, sig)
		return
	}

	q.mu.Lock()
	if q.state == StateTerminated {
		q.mu.Unlock()
		// duplicate terminal signal after TERMINATED: discarded.
		return
	}
	if q.maskDepth > 0 {
		if _, masked := q.maskedKinds[sig.Kind]; masked || q.maskedKinds == nil {
			q.maskable = append(q.maskable, sig)
			q.mu.Unlock()
			return
		}
	}
	q.mu.Unlock()
	d.deliverMaskable(agentID, q, sig)
}

func (d *Dispatcher) deliverUnmaskable(agentID string, q *agentQueue, sig Signal) {
	q.mu.Lock()
	if q.state == StateTerminated {
		q.mu.Unlock()
		return
	}
	from := q.state

	switch sig.Kind {
	case SIGKILL:
		q.state = StateTerminated
	case SIGPOLICY, SIGTRUST:
		// escalates to SIGKILL immediately (spec §4.2).
		q.state = StateTerminated
	}
	to := q.state
	q.mu.Unlock()

	d.recorder.RecordTransition(agentID, from, to, sig)
}

func (d *Dispatcher) deliverMaskable(agentID string, q *agentQueue, sig Signal) {
	q.mu.Lock()
	if q.state == StateTerminated {
		q.mu.Unlock()
		return
	}
	from := q.state

	switch sig.Kind {
	case SIGSTOP:
		q.state = StateStopped
	case SIGCONT:
		if q.state == StateStopped {
			q.state = StateRunning
		}
	case SIGINT:
		q.state = StateStopped
	case SIGTERM:
		q.state = StateTerminated
	}
	handler := q.handlers[sig.Kind]

	// SIGBUDGET/SIGLOOP/SIGDRIFT carry no state transition of their own;
	// with no handler registered to act on them, the default per spec
	// §4.2's signal table is to issue SIGSTOP.
	switch sig.Kind {
	case SIGBUDGET, SIGLOOP, SIGDRIFT:
		if handler == nil {
			q.state = StateStopped
		}
	}
	to := q.state
	q.mu.Unlock()

	if to != from {
		d.recorder.RecordTransition(agentID, from, to, sig)
	}

	if handler != nil {
		d.runHandlerSafely(handler, sig)
	}
}

func (d *Dispatcher) runHandlerSafely(h Handler, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("signal handler panic recovered: %v", r)
		}
	}()
	h(sig)
}

// Mask runs fn with the given signal kinds masked for agentID: matching
// maskable signals sent during fn are queued and delivered in FIFO order
// once fn returns. SIGKILL/SIGPOLICY/SIGTRUST are delivered synchronously
// regardless of masking.
func (d *Dispatcher) Mask(agentID string, kinds []Kind, fn func()) {
	q := d.queueFor(agentID)

	q.mu.Lock()
	q.maskDepth++
	if q.maskedKinds == nil {
		q.maskedKinds = make(map[Kind]struct{})
	}
	for _, k := range kinds {
		q.maskedKinds[k] = struct{}{}
	}
	q.mu.Unlock()

	fn()

	q.mu.Lock()
	q.maskDepth--
	var pending []Signal
	if q.maskDepth == 0 {
		pending = q.maskable
		q.maskable = nil
		q.maskedKinds = nil
	}
	q.mu.Unlock()

	for _, sig := range pending {
		d.deliverMaskable(agentID, q, sig)
	}
}
