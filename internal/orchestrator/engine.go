// Package orchestrator assembles the conversation pipeline: envelopes come
// off the bus, the router serializes them per session, each turn runs through
// the dialog state machine, and the handoff controller gets the final word
// before the response goes back out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deskbot/internal/breaker"
	"deskbot/internal/bus"
	"deskbot/internal/config"
	"deskbot/internal/dialog"
	"deskbot/internal/domain"
	"deskbot/internal/handoff"
	"deskbot/internal/playbook"
	"deskbot/internal/router"
	"deskbot/internal/store"
)

// Connectors are the external service implementations the engine drives
// through circuit breakers.
type Connectors struct {
	Classifier domain.IntentClassifier
	Sentiment  domain.SentimentAnalyzer
	Knowledge  domain.KnowledgeConnector
	Ticket     domain.TicketConnector
	HumanQueue domain.HumanQueue
}

// Engine wires the router, dialog manager and handoff controller together
// and runs the inbound consumption loop.
type Engine struct {
	cfg      *config.Config
	pb       *playbook.Playbook
	store    store.Store
	envBus   domain.EnvelopeBus
	events   *bus.EventBus
	breakers *breaker.Registry
	dialog   *dialog.Manager
	handoff  *handoff.Controller
	router   *router.Router
	sweeper  *store.Sweeper
	logger   *slog.Logger

	waitMu  sync.Mutex
	waiters map[string]chan domain.Envelope
}

// New builds a fully wired engine. Every external dependency gets its
// breaker registered here; a missing dependency config is a startup error,
// not a runtime surprise.
func New(cfg *config.Config, pb *playbook.Playbook, st store.Store, conns Connectors,
	envBus domain.EnvelopeBus, events *bus.EventBus, logger *slog.Logger) (*Engine, error) {

	if logger == nil {
		logger = slog.Default()
	}

	registry := breaker.NewRegistry(logger, events)

	dlg := dialog.NewManager(dialog.ManagerConfig{
		Classifier: conns.Classifier,
		Sentiment:  conns.Sentiment,
		Knowledge:  conns.Knowledge,
		Ticket:     conns.Ticket,
		Breakers:   registry,
		Playbook:   pb,
		Options:    cfg.Orchestrator,
		Logger:     logger,
	})
	if err := dlg.RegisterBreakers(cfg.Dependencies); err != nil {
		return nil, fmt.Errorf("wiring dialog dependencies: %w", err)
	}

	hoff := handoff.NewController(handoff.ControllerConfig{
		Queue:    conns.HumanQueue,
		Breakers: registry,
		Playbook: pb,
		Options:  cfg.Orchestrator,
		Logger:   logger,
		Events:   events,
	})
	if err := hoff.RegisterBreaker(cfg.Dependencies); err != nil {
		return nil, fmt.Errorf("wiring handoff dependency: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		pb:       pb,
		store:    st,
		envBus:   envBus,
		events:   events,
		breakers: registry,
		dialog:   dlg,
		handoff:  hoff,
		logger:   logger,
		waiters:  make(map[string]chan domain.Envelope),
	}
	e.router = router.New(st, e.turn, e.deliverOutbound, cfg.Orchestrator, logger)
	e.sweeper = store.NewSweeper(st,
		time.Duration(cfg.Store.SweepIntervalSeconds)*time.Second, events, logger)

	return e, nil
}

// Run consumes inbound envelopes until the context is cancelled, then drains
// the router. The TTL sweeper runs alongside.
func (e *Engine) Run(ctx context.Context) error {
	go e.sweeper.Run(ctx)

	e.logger.Info("orchestrator running",
		"intents", e.pb.Intents(), "dependencies", len(e.breakers.Names()))

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return e.router.Shutdown(shutdownCtx)
		case env, ok := <-e.envBus.Subscribe():
			if !ok {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return e.router.Shutdown(shutdownCtx)
			}
			e.dispatch(env)
		}
	}
}

// dispatch hands one envelope to the router, answering overload rejections
// immediately so the user is never left waiting on a full queue.
func (e *Engine) dispatch(env domain.Envelope) {
	err := e.router.Dispatch(env)
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrSessionOverloaded) {
		e.deliverOutbound(e.outbound(env, e.pb.Response(playbook.RespOverloaded)))
		return
	}
	e.logger.Error("envelope not dispatched", "session", env.SessionKey, "err", err)
}

// Dispatch queues an envelope without waiting for its response. Rejections
// (overload, malformed input) surface to the caller so the transport can map
// them onto its own error vocabulary.
func (e *Engine) Dispatch(env domain.Envelope) error {
	return e.router.Dispatch(env)
}

// ProcessSync pushes one envelope through the full pipeline and waits for
// its response. Used by the interactive CLI and the request/response API
// channel; routing still goes through the per-session mailbox.
func (e *Engine) ProcessSync(ctx context.Context, env domain.Envelope) (domain.Envelope, error) {
	if env.CorrelationID == "" {
		return domain.Envelope{}, fmt.Errorf("%w: missing correlation id", domain.ErrMalformedInput)
	}

	ch := make(chan domain.Envelope, 1)
	e.waitMu.Lock()
	e.waiters[env.CorrelationID] = ch
	e.waitMu.Unlock()
	defer func() {
		e.waitMu.Lock()
		delete(e.waiters, env.CorrelationID)
		e.waitMu.Unlock()
	}()

	if err := e.router.Dispatch(env); err != nil {
		if errors.Is(err, domain.ErrSessionOverloaded) {
			return e.outbound(env, e.pb.Response(playbook.RespOverloaded)), err
		}
		return domain.Envelope{}, err
	}

	select {
	case out := <-ch:
		return out, nil
	case <-ctx.Done():
		return domain.Envelope{}, ctx.Err()
	}
}

// turn is the router's TurnFunc: the single place where one inbound message
// becomes one outbound response.
func (e *Engine) turn(ctx context.Context, sess *domain.Session, env domain.Envelope) (domain.Envelope, error) {
	if sess.State.Terminal() {
		return e.outbound(env, e.pb.Response(playbook.RespSessionEnded)), domain.ErrSessionTerminal
	}

	sess.Touch(time.Duration(e.cfg.Orchestrator.SessionTTLSeconds) * time.Second)
	entry := domain.TranscriptEntry{
		Direction:     domain.Inbound,
		Body:          env.Body,
		CorrelationID: env.CorrelationID,
		Timestamp:     env.Timestamp,
	}
	sess.Append(entry, e.cfg.Orchestrator.TranscriptRetention)

	// A handed-off conversation never re-enters the state machine: relay the
	// message to the human agent and retry the pending delivery.
	if sess.State == domain.StateHandoffPending {
		e.handoff.ForwardTurn(ctx, sess.Key, entry)
		delivered := false
		if reason := domain.HandoffReason(sess.HandoffReason); reason != "" {
			delivered = e.handoff.Execute(ctx, sess, reason) == nil
		}
		return e.respond(sess, env, e.handoff.Response(delivered)), nil
	}

	// Explicit agent requests bypass classification entirely.
	if e.handoff.MatchesExplicit(env.Body) {
		return e.executeHandoff(ctx, sess, env, domain.ReasonExplicit)
	}

	res, err := e.dialog.ProcessTurn(ctx, sess, env)
	if err != nil {
		return e.outbound(env, e.pb.Response(playbook.RespSessionEnded)), err
	}

	// Trigger policy runs once per turn, after the state machine settles.
	if reason, ok := e.handoff.Evaluate(sess, res.ForceHandoff); ok {
		return e.executeHandoff(ctx, sess, env, reason)
	}

	e.emitTurnCompleted(sess, env)
	return e.respond(sess, env, res.Response), nil
}

func (e *Engine) executeHandoff(ctx context.Context, sess *domain.Session, env domain.Envelope, reason domain.HandoffReason) (domain.Envelope, error) {
	sess.HandoffReason = string(reason)
	delivered := e.handoff.Execute(ctx, sess, reason) == nil
	e.emitTurnCompleted(sess, env)
	return e.respond(sess, env, e.handoff.Response(delivered)), nil
}

// respond appends the outbound entry to the transcript and builds the
// response envelope.
func (e *Engine) respond(sess *domain.Session, env domain.Envelope, text string) domain.Envelope {
	out := e.outbound(env, text)
	sess.Append(domain.TranscriptEntry{
		Direction:     domain.Outbound,
		Body:          text,
		CorrelationID: env.CorrelationID,
		Timestamp:     out.Timestamp,
	}, e.cfg.Orchestrator.TranscriptRetention)
	return out
}

func (e *Engine) outbound(env domain.Envelope, text string) domain.Envelope {
	return domain.Envelope{
		Channel:       env.Channel,
		SessionKey:    env.SessionKey,
		Direction:     domain.Outbound,
		Body:          text,
		Timestamp:     time.Now(),
		CorrelationID: env.CorrelationID,
	}
}

// deliverOutbound resolves a synchronous waiter if one is registered for the
// turn's correlation ID, otherwise routes the envelope back through the bus.
func (e *Engine) deliverOutbound(env domain.Envelope) {
	e.waitMu.Lock()
	ch, ok := e.waiters[env.CorrelationID]
	e.waitMu.Unlock()
	if ok {
		select {
		case ch <- env:
		default:
		}
		return
	}
	e.envBus.SendOutbound(env)
}

func (e *Engine) emitTurnCompleted(sess *domain.Session, env domain.Envelope) {
	if e.events == nil {
		return
	}
	e.events.EmitAsync(bus.Event{
		Type:   bus.EventTurnCompleted,
		Source: sess.Key,
		Payload: map[string]any{
			"state":       string(sess.State),
			"channel":     string(env.Channel),
			"correlation": env.CorrelationID,
		},
	})
}

// BreakerStates reports the live state of every registered breaker, for the
// status command and health endpoint.
func (e *Engine) BreakerStates() map[string]string {
	out := make(map[string]string)
	for _, name := range e.breakers.Names() {
		if st, ok := e.breakers.State(name); ok {
			out[name] = st.String()
		}
	}
	return out
}

// QueueDepth exposes the router's pending-turn count for a session.
func (e *Engine) QueueDepth(sessionKey string) int {
	return e.router.QueueDepth(sessionKey)
}
