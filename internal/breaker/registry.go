package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deskbot/internal/bus"
	"deskbot/internal/config"
	"deskbot/internal/domain"
	"deskbot/internal/metrics"
)

// CallFunc performs the real dependency call. The context it receives
// already carries the dependency's hard deadline.
type CallFunc func(ctx context.Context) (any, error)

// FallbackFunc produces the degraded result when the dependency is open or
// failing. It receives the error that triggered the fallback
// (domain.ErrBreakerOpen when the call was short-circuited).
type FallbackFunc func(ctx context.Context, cause error) (any, error)

type entry struct {
	breaker  *Breaker
	timeout  time.Duration
	fallback FallbackFunc
}

// Registry holds one breaker per named external dependency and routes every
// call through it. A fallback is required at registration time.
type Registry struct {
	entries sync.Map // name -> *entry
	logger  *slog.Logger
	events  *bus.EventBus
}

// NewRegistry creates an empty breaker registry. events may be nil.
func NewRegistry(logger *slog.Logger, events *bus.EventBus) *Registry {
	return &Registry{logger: logger, events: events}
}

// Register wires a named dependency with its breaker tuning and mandatory
// fallback. Registering twice replaces the previous entry.
func (r *Registry) Register(name string, cfg config.DependencyConfig, fallback FallbackFunc) error {
	if fallback == nil {
		return fmt.Errorf("dependency %q: fallback is required", name)
	}
	b := New(name,
		cfg.FailureThreshold,
		time.Duration(cfg.WindowMs)*time.Millisecond,
		time.Duration(cfg.ResetTimeoutMs)*time.Millisecond,
		time.Duration(cfg.MaxResetTimeoutMs)*time.Millisecond,
		r.emitTransition,
	)
	r.entries.Store(name, &entry{
		breaker:  b,
		timeout:  time.Duration(cfg.TimeoutMs) * time.Millisecond,
		fallback: fallback,
	})
	return nil
}

// Do executes a call through the named dependency's breaker. Dependency
// errors never escape: a failed, timed-out, or short-circuited call resolves
// to the registered fallback. The only errors Do returns are unregistered
// dependency names and errors produced by the fallback itself.
func (r *Registry) Do(ctx context.Context, name string, call CallFunc) (any, error) {
	v, ok := r.entries.Load(name)
	if !ok {
		return nil, fmt.Errorf("no breaker registered for dependency %q", name)
	}
	e := v.(*entry)

	if !e.breaker.Allow() {
		metrics.FallbacksTotal.Inc()
		r.emitFallback(name, domain.ErrBreakerOpen)
		return e.fallback(ctx, domain.ErrBreakerOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := call(callCtx)
	metrics.DependencyLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		// A timeout counts as a failure for breaker purposes.
		e.breaker.OnFailure()
		metrics.FallbacksTotal.Inc()
		r.emitFallback(name, err)
		return e.fallback(ctx, err)
	}

	e.breaker.OnSuccess()
	return out, nil
}

// State returns the current state of a named breaker.
func (r *Registry) State(name string) (State, bool) {
	v, ok := r.entries.Load(name)
	if !ok {
		return Closed, false
	}
	return v.(*entry).breaker.State(), true
}

// Names returns the registered dependency names.
func (r *Registry) Names() []string {
	var names []string
	r.entries.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}

func (r *Registry) emitTransition(name string, from, to State) {
	metrics.BreakerTransitions.Inc()
	r.logger.Warn("breaker state transition",
		"dependency", name,
		"from", from.String(),
		"to", to.String(),
	)
	if r.events == nil {
		return
	}
	eventType := bus.EventBreakerClosed
	switch to {
	case Open:
		eventType = bus.EventBreakerOpened
	case HalfOpen:
		eventType = bus.EventBreakerHalfOpen
	}
	r.events.Emit(bus.Event{
		Type:   eventType,
		Source: name,
		Payload: map[string]any{
			"from": from.String(),
			"to":   to.String(),
		},
	})
}

func (r *Registry) emitFallback(name string, cause error) {
	r.logger.Debug("dependency call resolved by fallback", "dependency", name, "cause", cause)
	if r.events != nil {
		r.events.EmitAsync(bus.Event{
			Type:    bus.EventFallbackUsed,
			Source:  name,
			Payload: map[string]any{"cause": cause.Error()},
		})
	}
}
