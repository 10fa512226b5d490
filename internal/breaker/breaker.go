// Package breaker wraps every call to an external collaborator with failure
// isolation: the classic closed/open/half-open circuit breaker plus a
// mandatory per-dependency fallback, so every dependency degrades
// deterministically instead of failing turns.
package breaker

import (
	"sync/atomic"
	"time"
)

// State is the breaker position.
type State int32

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
		return "half-open"
	}
	return "unknown"
}

// Breaker tracks failures for one named dependency. All state lives in
// atomics because Allow/OnSuccess/OnFailure sit on the hot path of every
// external call; there is no lock around the call itself.
type Breaker struct {
	name             string
	failureThreshold int32
	window           time.Duration
	baseReset        time.Duration
	maxReset         time.Duration

	state        atomic.Int32
	failures     atomic.Int32
	windowStart  atomic.Int64 // unix nanos of the current failure window
	openedAt     atomic.Int64 // unix nanos
	resetTimeout atomic.Int64 // current open duration, nanos
	trial        atomic.Bool  // half-open trial slot

	onTransition func(name string, from, to State)
}

// New creates a breaker in the closed state.
func New(name string, failureThreshold int, window, baseReset, maxReset time.Duration, onTransition func(string, State, State)) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: int32(failureThreshold),
		window:           window,
		baseReset:        baseReset,
		maxReset:         maxReset,
		onTransition:     onTransition,
	}
	b.resetTimeout.Store(int64(baseReset))
	b.windowStart.Store(time.Now().UnixNano())
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker) State() State { return State(b.state.Load()) }

// Allow reports whether a call may proceed to the real dependency. In
// half-open, exactly one caller wins the trial slot; everyone else is
// short-circuited until the trial resolves.
func (b *Breaker) Allow() bool {
	switch State(b.state.Load()) {
	case Closed:
		return true
	case Open:
		elapsed := time.Now().UnixNano() - b.openedAt.Load()
		if elapsed < b.resetTimeout.Load() {
			return false
		}
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			b.trial.Store(false)
			b.transition(Open, HalfOpen)
		}
		return b.trial.CompareAndSwap(false, true)
	case HalfOpen:
		return b.trial.CompareAndSwap(false, true)
	}
	return false
}

// OnSuccess records a successful call. A half-open success closes the
// breaker and resets the backoff to its base value.
func (b *Breaker) OnSuccess() {
	if b.state.CompareAndSwap(int32(HalfOpen), int32(Closed)) {
		b.failures.Store(0)
		b.resetTimeout.Store(int64(b.baseReset))
		b.trial.Store(false)
		b.transition(HalfOpen, Closed)
		return
	}
	b.failures.Store(0)
}

// OnFailure records a failed call (timeouts included). A half-open failure
// re-opens the breaker and doubles the reset timeout up to the cap.
func (b *Breaker) OnFailure() {
	now := time.Now().UnixNano()

	if b.state.CompareAndSwap(int32(HalfOpen), int32(Open)) {
		next := time.Duration(b.resetTimeout.Load()) * 2
		if next > b.maxReset {
			next = b.maxReset
		}
		b.resetTimeout.Store(int64(next))
		b.openedAt.Store(now)
		b.trial.Store(false)
		b.transition(HalfOpen, Open)
		return
	}

	if State(b.state.Load()) != Closed {
		return
	}

	// Sliding window: failures older than the window don't count.
	ws := b.windowStart.Load()
	if b.window > 0 && now-ws > int64(b.window) {
		if b.windowStart.CompareAndSwap(ws, now) {
			b.failures.Store(0)
		}
	}

	if b.failures.Add(1) >= b.failureThreshold {
		if b.state.CompareAndSwap(int32(Closed), int32(Open)) {
			b.openedAt.Store(now)
			b.transition(Closed, Open)
		}
	}
}

// ResetTimeout returns the current open duration (grows under repeated
// half-open failures).
func (b *Breaker) ResetTimeout() time.Duration {
	return time.Duration(b.resetTimeout.Load())
}

func (b *Breaker) transition(from, to State) {
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}
