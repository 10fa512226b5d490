// Package router serializes turns per session and fans sessions out across
// goroutines. Each active session owns a mailbox: a bounded FIFO queue
// drained by at most one goroutine, so no two turns for the same session are
// ever in flight together while unrelated sessions proceed in parallel.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deskbot/internal/config"
	"deskbot/internal/domain"
	"deskbot/internal/metrics"
	"deskbot/internal/store"
)

// TurnFunc processes one inbound envelope against its session and returns
// the outbound response envelope. The router guarantees it holds the
// session's single-writer slot for the duration of the call.
type TurnFunc func(ctx context.Context, sess *domain.Session, env domain.Envelope) (domain.Envelope, error)

// DeliverFunc hands a completed outbound envelope back toward the gateway.
type DeliverFunc func(env domain.Envelope)

// Router owns the per-session mailboxes and the session load/store cycle
// around each turn.
type Router struct {
	store   store.Store
	turn    TurnFunc
	deliver DeliverFunc
	opts    config.OrchestratorConfig
	logger  *slog.Logger

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	closed    bool
	wg        sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// mailbox is one session's pending work. running marks a drain goroutine as
// active; queue order is arrival order.
type mailbox struct {
	queue   []domain.Envelope
	running bool
}

// New creates a router. deliver receives every outbound envelope, including
// the canned responses for rejected turns.
func New(st store.Store, turn TurnFunc, deliver DeliverFunc, opts config.OrchestratorConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		store:     st,
		turn:      turn,
		deliver:   deliver,
		opts:      opts,
		logger:    logger,
		mailboxes: make(map[string]*mailbox),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Dispatch queues one inbound envelope for its session. It returns
// domain.ErrSessionOverloaded when the session's queue is full; everything
// else is reported asynchronously through the outbound path.
func (r *Router) Dispatch(env domain.Envelope) error {
	if env.SessionKey == "" {
		return fmt.Errorf("%w: envelope has no session key", domain.ErrMalformedInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("router is shut down")
	}

	mb, ok := r.mailboxes[env.SessionKey]
	if !ok {
		mb = &mailbox{}
		r.mailboxes[env.SessionKey] = mb
		metrics.ActiveMailboxes.Inc()
	}

	if len(mb.queue) >= r.opts.MaxQueuedTurns {
		metrics.TurnsRejected.Inc()
		r.logger.Warn("session queue full, rejecting turn",
			"session", env.SessionKey, "depth", len(mb.queue))
		return domain.ErrSessionOverloaded
	}

	mb.queue = append(mb.queue, env)
	metrics.QueuedTurns.Inc()

	if !mb.running {
		mb.running = true
		r.wg.Add(1)
		go r.drain(env.SessionKey)
	}
	return nil
}

// drain processes one session's queue to exhaustion, then retires the
// mailbox. Only one drain goroutine exists per session key at a time.
func (r *Router) drain(key string) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		mb := r.mailboxes[key]
		if mb == nil || len(mb.queue) == 0 {
			if mb != nil {
				mb.running = false
				delete(r.mailboxes, key)
				metrics.ActiveMailboxes.Dec()
			}
			r.mu.Unlock()
			return
		}
		env := mb.queue[0]
		mb.queue = mb.queue[1:]
		metrics.QueuedTurns.Dec()
		r.mu.Unlock()

		r.processTurn(env)
	}
}

// processTurn runs the load → turn → compare-and-swap put cycle for one
// envelope. A version conflict means another writer (the TTL sweeper) moved
// the session underneath us; the turn is re-applied against the fresh state
// up to the retry budget.
func (r *Router) processTurn(env domain.Envelope) {
	start := time.Now()
	defer func() {
		metrics.TurnsTotal.Inc()
		metrics.TurnLatency.Observe(time.Since(start).Seconds())
	}()

	ttl := time.Duration(r.opts.SessionTTLSeconds) * time.Second

	for attempt := 0; attempt <= r.opts.VersionRetryBudget; attempt++ {
		sess, err := r.store.Get(r.baseCtx, env.SessionKey)
		if err != nil {
			r.logger.Error("session load failed", "session", env.SessionKey, "err", err)
			return
		}
		if sess == nil {
			sess = domain.NewSession(env.SessionKey, ttl)
		}

		out, err := r.turn(r.baseCtx, sess, env)
		if err != nil {
			if errors.Is(err, domain.ErrSessionTerminal) {
				r.deliver(out)
				return
			}
			r.logger.Error("turn failed", "session", env.SessionKey,
				"correlation", env.CorrelationID, "err", err)
			return
		}

		err = r.store.Put(r.baseCtx, sess)
		if err == nil {
			r.deliver(out)
			return
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			r.logger.Error("session store failed", "session", env.SessionKey, "err", err)
			return
		}
		r.logger.Debug("session version conflict, re-applying turn",
			"session", env.SessionKey, "attempt", attempt+1)
	}

	r.logger.Error("version retry budget exhausted, dropping turn",
		"session", env.SessionKey, "correlation", env.CorrelationID)
	metrics.TurnsRejected.Inc()
}

// QueueDepth reports the pending turns for a session. Zero for idle sessions.
func (r *Router) QueueDepth(sessionKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mb, ok := r.mailboxes[sessionKey]; ok {
		return len(mb.queue)
	}
	return 0
}

// Shutdown stops accepting new turns and waits for in-flight drains, up to
// the context deadline.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return fmt.Errorf("router shutdown: %w", ctx.Err())
	}
}
