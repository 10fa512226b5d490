// Package handoff centralizes the trigger policy and the delivery mechanics
// for transferring a conversation to a human agent. The dialog manager never
// decides a handoff on its own; the router asks this controller once per turn
// after the state machine settles.
package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"deskbot/internal/breaker"
	"deskbot/internal/bus"
	"deskbot/internal/config"
	"deskbot/internal/domain"
	"deskbot/internal/metrics"
	"deskbot/internal/playbook"
)

const (
	deliveryBackoffBase = 200 * time.Millisecond
	indexRetention      = 24 * time.Hour
)

// Controller evaluates handoff triggers and executes idempotent delivery to
// the human-agent queue through its circuit breaker.
type Controller struct {
	queue     domain.HumanQueue
	breakers  *breaker.Registry
	pb        *playbook.Playbook
	opts      config.OrchestratorConfig
	delivered *deliveryIndex
	logger    *slog.Logger
	events    *bus.EventBus
}

// ControllerConfig holds the handoff controller's dependencies. Events may
// be nil.
type ControllerConfig struct {
	Queue    domain.HumanQueue
	Breakers *breaker.Registry
	Playbook *playbook.Playbook
	Options  config.OrchestratorConfig
	Logger   *slog.Logger
	Events   *bus.EventBus
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		queue:     cfg.Queue,
		breakers:  cfg.Breakers,
		pb:        cfg.Playbook,
		opts:      cfg.Options,
		delivered: newDeliveryIndex(),
		logger:    cfg.Logger,
		events:    cfg.Events,
	}
}

// RegisterBreaker wires the human-queue dependency into the registry. The
// fallback reports non-delivery so Execute's retry loop keeps ownership of
// the request.
func (c *Controller) RegisterBreaker(deps map[string]config.DependencyConfig) error {
	cfg, ok := deps[config.DepHumanQueue]
	if !ok {
		return fmt.Errorf("missing dependency config for %q", config.DepHumanQueue)
	}
	return c.breakers.Register(config.DepHumanQueue, cfg,
		func(context.Context, error) (any, error) { return nil, nil })
}

// MatchesExplicit reports whether the utterance is an explicit request for a
// human agent. Checked before the message enters the state machine, so "talk
// to agent" as a first message never reaches the classifier.
func (c *Controller) MatchesExplicit(text string) bool {
	return c.pb.MatchesHandoffPhrase(text)
}

// Evaluate applies the trigger policy to a settled turn. forced is set when
// the dialog gave up on slot resolution. The boundary is inclusive: a
// no-match count equal to the maximum triggers on that same turn.
func (c *Controller) Evaluate(sess *domain.Session, forced bool) (domain.HandoffReason, bool) {
	switch {
	case forced:
		return domain.ReasonLowConfidence, true
	case sess.LastSentiment <= c.opts.SentimentHandoffThreshold:
		return domain.ReasonNegativeSentiment, true
	case sess.ConsecutiveNoMatch >= c.opts.MaxNoMatchBeforeHandoff:
		return domain.ReasonRepeatedNoMatch, true
	}
	return "", false
}

// Execute moves the session to HandoffPending and delivers the request to
// the human queue, closing the session on acknowledged delivery. It is safe
// to call repeatedly for the same sessionKey+reason: duplicates are resolved
// from the delivery index without touching the queue again.
func (c *Controller) Execute(ctx context.Context, sess *domain.Session, reason domain.HandoffReason) error {
	key := deliveryKey(sess.Key, reason)
	if ackID, ok := c.delivered.lookup(key); ok {
		c.logger.Debug("handoff already delivered", "session", sess.Key, "reason", reason, "ack", ackID)
		sess.State = domain.StateClosed
		return nil
	}

	if sess.State != domain.StateHandoffPending {
		sess.State = domain.StateHandoffPending
		c.emit(bus.EventHandoffRequested, sess.Key, reason, "")
	}

	req := domain.HandoffRequest{
		SessionKey: sess.Key,
		Reason:     reason,
		Transcript: sess.SnapshotTranscript(),
		CreatedAt:  time.Now(),
	}

	backoff := deliveryBackoffBase
	for attempt := 1; attempt <= c.opts.HandoffMaxAttempts; attempt++ {
		ackID, ok := c.tryEnqueue(ctx, req)
		if ok {
			c.delivered.record(key, ackID)
			c.delivered.purge(indexRetention)
			sess.State = domain.StateClosed
			metrics.HandoffsTotal.Inc()
			c.logger.Info("handoff delivered",
				"session", sess.Key, "reason", reason, "ack", ackID, "attempt", attempt)
			c.emit(bus.EventHandoffDelivered, sess.Key, reason, ackID)
			return nil
		}
		if attempt == c.opts.HandoffMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("handoff delivery for %s interrupted: %w", sess.Key, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	// The session stays HandoffPending; the next turn for it retries delivery.
	c.logger.Warn("handoff delivery exhausted attempts, will retry on next turn",
		"session", sess.Key, "reason", reason, "attempts", c.opts.HandoffMaxAttempts)
	return fmt.Errorf("handoff for %s undelivered after %d attempts", sess.Key, c.opts.HandoffMaxAttempts)
}

// ForwardTurn relays a message that arrived after the session was handed
// off, so the human agent sees it. Best-effort: a drop is logged, never
// surfaced to the user.
func (c *Controller) ForwardTurn(ctx context.Context, sessionKey string, entry domain.TranscriptEntry) {
	_, err := c.breakers.Do(ctx, config.DepHumanQueue, func(ctx context.Context) (any, error) {
		return nil, c.queue.Forward(ctx, sessionKey, entry)
	})
	if err != nil {
		c.logger.Warn("post-handoff turn not forwarded", "session", sessionKey, "err", err)
	}
}

// Response returns the user-facing text for an executed or pending handoff.
func (c *Controller) Response(delivered bool) string {
	if delivered {
		return c.pb.Response(playbook.RespHandoff)
	}
	return c.pb.Response(playbook.RespHandoffWait)
}

func (c *Controller) tryEnqueue(ctx context.Context, req domain.HandoffRequest) (string, bool) {
	out, err := c.breakers.Do(ctx, config.DepHumanQueue, func(ctx context.Context) (any, error) {
		return c.queue.Enqueue(ctx, req)
	})
	if err != nil || out == nil {
		return "", false
	}
	ackID, ok := out.(string)
	if !ok || ackID == "" {
		return "", false
	}
	return ackID, true
}

func (c *Controller) emit(eventType, sessionKey string, reason domain.HandoffReason, ackID string) {
	if c.events == nil {
		return
	}
	payload := map[string]any{"reason": string(reason)}
	if ackID != "" {
		payload["ack"] = ackID
	}
	c.events.EmitAsync(bus.Event{Type: eventType, Source: sessionKey, Payload: payload})
}

func deliveryKey(sessionKey string, reason domain.HandoffReason) string {
	return sessionKey + "|" + string(reason)
}
