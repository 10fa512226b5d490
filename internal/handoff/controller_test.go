package handoff

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"deskbot/internal/breaker"
	"deskbot/internal/config"
	"deskbot/internal/domain"
	"deskbot/internal/playbook"
)

type fakeQueue struct {
	mu           sync.Mutex
	failuresLeft int
	enqueued     []domain.HandoffRequest
	forwarded    []domain.TranscriptEntry
}

func (q *fakeQueue) Enqueue(_ context.Context, req domain.HandoffRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failuresLeft > 0 {
		q.failuresLeft--
		return "", errors.New("queue unavailable")
	}
	q.enqueued = append(q.enqueued, req)
	return "ACK-1", nil
}

func (q *fakeQueue) Forward(_ context.Context, _ string, entry domain.TranscriptEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.forwarded = append(q.forwarded, entry)
	return nil
}

func (q *fakeQueue) enqueueCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func newController(t *testing.T, queue *fakeQueue, opts config.OrchestratorConfig) *Controller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	registry := breaker.NewRegistry(logger, nil)
	c := NewController(ControllerConfig{
		Queue:    queue,
		Breakers: registry,
		Playbook: playbook.Defaults(),
		Options:  opts,
		Logger:   logger,
	})
	deps := config.Defaults().Dependencies
	if err := c.RegisterBreaker(deps); err != nil {
		t.Fatalf("RegisterBreaker: %v", err)
	}
	return c
}

func TestMatchesExplicitPhrase(t *testing.T) {
	c := newController(t, &fakeQueue{}, config.Defaults().Orchestrator)
	for text, want := range map[string]bool{
		"talk to agent":                     true,
		"I want to TALK TO AGENT right now": true,
		"can I speak to a person":           true,
		"how do I reset my password":        false,
	} {
		if got := c.MatchesExplicit(text); got != want {
			t.Errorf("MatchesExplicit(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestEvaluateNoMatchBoundaryIsInclusive(t *testing.T) {
	opts := config.Defaults().Orchestrator
	c := newController(t, &fakeQueue{}, opts)

	sess := domain.NewSession("web:u", time.Hour)
	sess.ConsecutiveNoMatch = opts.MaxNoMatchBeforeHandoff - 1
	if _, ok := c.Evaluate(sess, false); ok {
		t.Errorf("count %d should not trigger", sess.ConsecutiveNoMatch)
	}

	sess.ConsecutiveNoMatch = opts.MaxNoMatchBeforeHandoff
	reason, ok := c.Evaluate(sess, false)
	if !ok || reason != domain.ReasonRepeatedNoMatch {
		t.Errorf("count %d: got (%q, %v), want repeated_no_match on the same turn",
			sess.ConsecutiveNoMatch, reason, ok)
	}
}

func TestEvaluateSentimentThreshold(t *testing.T) {
	opts := config.Defaults().Orchestrator
	c := newController(t, &fakeQueue{}, opts)

	sess := domain.NewSession("web:u", time.Hour)
	sess.LastSentiment = opts.SentimentHandoffThreshold + 0.01
	if _, ok := c.Evaluate(sess, false); ok {
		t.Error("sentiment above threshold should not trigger")
	}

	sess.LastSentiment = opts.SentimentHandoffThreshold
	reason, ok := c.Evaluate(sess, false)
	if !ok || reason != domain.ReasonNegativeSentiment {
		t.Errorf("got (%q, %v), want negative_sentiment at the threshold", reason, ok)
	}
}

func TestEvaluateForcedMapsToLowConfidence(t *testing.T) {
	c := newController(t, &fakeQueue{}, config.Defaults().Orchestrator)
	reason, ok := c.Evaluate(domain.NewSession("web:u", time.Hour), true)
	if !ok || reason != domain.ReasonLowConfidence {
		t.Errorf("got (%q, %v), want low_confidence for forced handoff", reason, ok)
	}
}

func TestExecuteDeliversAndClosesSession(t *testing.T) {
	queue := &fakeQueue{}
	c := newController(t, queue, config.Defaults().Orchestrator)

	sess := domain.NewSession("web:u", time.Hour)
	sess.Append(domain.TranscriptEntry{Direction: domain.Inbound, Body: "talk to agent"}, 50)

	if err := c.Execute(context.Background(), sess, domain.ReasonExplicit); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sess.State != domain.StateClosed {
		t.Errorf("state = %s, want %s", sess.State, domain.StateClosed)
	}
	if queue.enqueueCount() != 1 {
		t.Fatalf("enqueued %d requests, want 1", queue.enqueueCount())
	}
	req := queue.enqueued[0]
	if req.SessionKey != sess.Key || req.Reason != domain.ReasonExplicit {
		t.Errorf("request = %+v, want session key and reason carried", req)
	}
	if len(req.Transcript) != 1 {
		t.Errorf("transcript snapshot has %d entries, want 1", len(req.Transcript))
	}
}

func TestExecuteIsIdempotentPerSessionAndReason(t *testing.T) {
	queue := &fakeQueue{}
	c := newController(t, queue, config.Defaults().Orchestrator)

	sess := domain.NewSession("web:u", time.Hour)
	if err := c.Execute(context.Background(), sess, domain.ReasonExplicit); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if err := c.Execute(context.Background(), sess, domain.ReasonExplicit); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if queue.enqueueCount() != 1 {
		t.Errorf("enqueued %d requests, want exactly 1", queue.enqueueCount())
	}
	if sess.State != domain.StateClosed {
		t.Errorf("state = %s, want %s", sess.State, domain.StateClosed)
	}
}

func TestExecuteRetriesUntilDelivered(t *testing.T) {
	queue := &fakeQueue{failuresLeft: 2}
	opts := config.Defaults().Orchestrator
	c := newController(t, queue, opts)

	sess := domain.NewSession("web:u", time.Hour)
	if err := c.Execute(context.Background(), sess, domain.ReasonRepeatedNoMatch); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sess.State != domain.StateClosed {
		t.Errorf("state = %s, want %s after retried delivery", sess.State, domain.StateClosed)
	}
	if queue.enqueueCount() != 1 {
		t.Errorf("enqueued %d requests, want 1", queue.enqueueCount())
	}
}

func TestExecuteExhaustedLeavesSessionPending(t *testing.T) {
	queue := &fakeQueue{failuresLeft: 100}
	opts := config.Defaults().Orchestrator
	opts.HandoffMaxAttempts = 2
	c := newController(t, queue, opts)

	sess := domain.NewSession("web:u", time.Hour)
	err := c.Execute(context.Background(), sess, domain.ReasonExplicit)
	if err == nil {
		t.Fatal("want an error when every attempt fails")
	}
	if sess.State != domain.StateHandoffPending {
		t.Errorf("state = %s, want %s so the next turn retries", sess.State, domain.StateHandoffPending)
	}

	// The queue recovers; the retried execution delivers without duplicates.
	queue.mu.Lock()
	queue.failuresLeft = 0
	queue.mu.Unlock()
	if err := c.Execute(context.Background(), sess, domain.ReasonExplicit); err != nil {
		t.Fatalf("retried Execute: %v", err)
	}
	if sess.State != domain.StateClosed || queue.enqueueCount() != 1 {
		t.Errorf("state = %s, enqueued = %d; want closed with exactly one entry",
			sess.State, queue.enqueueCount())
	}
}

func TestForwardTurnReachesQueue(t *testing.T) {
	queue := &fakeQueue{}
	c := newController(t, queue, config.Defaults().Orchestrator)

	entry := domain.TranscriptEntry{Direction: domain.Inbound, Body: "are you still there?"}
	c.ForwardTurn(context.Background(), "web:u", entry)

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.forwarded) != 1 || queue.forwarded[0].Body != entry.Body {
		t.Errorf("forwarded = %+v, want the post-handoff message relayed", queue.forwarded)
	}
}
