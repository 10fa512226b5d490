// Package dialog implements the conversation state machine: it consumes one
// inbound envelope per turn, mutates the session, and produces the response
// text. Every external call goes through the breaker registry, so a degraded
// classifier or knowledge base degrades the answer, never the turn.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"deskbot/internal/breaker"
	"deskbot/internal/config"
	"deskbot/internal/domain"
	"deskbot/internal/playbook"
)

// TurnResult is what one processed turn produced. ForceHandoff is set when
// the dialog gave up (slot retries exhausted); the handoff controller owns
// every other trigger.
type TurnResult struct {
	Response     string
	ForceHandoff bool
}

// Manager drives the dialog state machine. It is stateless between turns:
// all conversational state lives in the session.
type Manager struct {
	classifier domain.IntentClassifier
	sentiment  domain.SentimentAnalyzer
	knowledge  domain.KnowledgeConnector
	ticket     domain.TicketConnector
	breakers   *breaker.Registry
	pb         *playbook.Playbook
	opts       config.OrchestratorConfig
	logger     *slog.Logger
}

// ManagerConfig holds the dialog manager's dependencies.
type ManagerConfig struct {
	Classifier domain.IntentClassifier
	Sentiment  domain.SentimentAnalyzer
	Knowledge  domain.KnowledgeConnector
	Ticket     domain.TicketConnector
	Breakers   *breaker.Registry
	Playbook   *playbook.Playbook
	Options    config.OrchestratorConfig
	Logger     *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		classifier: cfg.Classifier,
		sentiment:  cfg.Sentiment,
		knowledge:  cfg.Knowledge,
		ticket:     cfg.Ticket,
		breakers:   cfg.Breakers,
		pb:         cfg.Playbook,
		opts:       cfg.Options,
		logger:     cfg.Logger,
	}
}

// classifyOutcome carries the classifier result or its degradation cause
// through the breaker's any-typed return.
type classifyOutcome struct {
	result   domain.IntentResult
	fellBack bool
	cause    error
}

// ProcessTurn runs one turn of the state machine. The caller (router) holds
// the session's single-writer slot and persists the mutated session after.
func (m *Manager) ProcessTurn(ctx context.Context, sess *domain.Session, env domain.Envelope) (TurnResult, error) {
	if sess.State.Terminal() {
		return TurnResult{}, domain.ErrSessionTerminal
	}

	m.scoreSentiment(ctx, sess, env.Body)

	if sess.State == domain.StateIdle {
		m.setState(sess, domain.StateAwaitingIntent)
	}

	var res TurnResult
	switch sess.State {
	case domain.StateAwaitingConfirmation:
		res = m.confirmationTurn(ctx, sess, env)
	default:
		if sess.PendingSlot != "" {
			res = m.slotFillTurn(ctx, sess, env)
		} else {
			res = m.classifyTurn(ctx, sess, env)
		}
	}

	// A turn that produced a direct response completes: Responding → Idle.
	if sess.State == domain.StateResponding {
		m.setState(sess, domain.StateIdle)
	}

	return res, nil
}

// classifyTurn handles AwaitingIntent: classify the utterance and resolve it.
func (m *Manager) classifyTurn(ctx context.Context, sess *domain.Session, env domain.Envelope) TurnResult {
	out := m.classify(ctx, sess, env.Body)
	if out.fellBack {
		// Classifier unavailable: degrade to the canned response and record
		// the miss so repeated degradation eventually reaches a human.
		sess.ConsecutiveNoMatch++
		m.setState(sess, domain.StateResponding)
		return TurnResult{Response: m.pb.Fallback(config.DepClassifier)}
	}

	m.setState(sess, domain.StateResolving)
	return m.resolve(ctx, sess, env, out.result)
}

// resolve applies the confidence thresholds to a classification result.
func (m *Manager) resolve(ctx context.Context, sess *domain.Session, env domain.Envelope, result domain.IntentResult) TurnResult {
	// Slot values persist for the session's lifetime.
	for name, value := range result.Entities {
		sess.Context[name] = value
	}

	switch {
	case result.Confidence < m.opts.ConfidenceFloor:
		sess.ConsecutiveNoMatch++
		m.setState(sess, domain.StateResponding)
		return TurnResult{Response: m.pb.Response(playbook.RespNoMatch)}

	case result.Confidence < m.opts.ConfirmationThreshold:
		// Confident enough to guess, not enough to act: disambiguate.
		sess.PendingIntent = result.IntentName
		m.setState(sess, domain.StateAwaitingConfirmation)
		return TurnResult{Response: fmt.Sprintf(m.pb.Response(playbook.RespConfirmation), result.IntentName)}

	default:
		return m.accept(ctx, sess, env, result.IntentName)
	}
}

// accept commits to an intent: fill slots, then fulfill.
func (m *Manager) accept(ctx context.Context, sess *domain.Session, env domain.Envelope, intentName string) TurnResult {
	sess.PendingIntent = intentName
	intent, known := m.pb.Intent(intentName)

	if known {
		if missing, ok := m.missingSlot(sess, intent); ok {
			sess.SlotRetries++
			if sess.SlotRetries > m.opts.MaxSlotRetries {
				m.logger.Info("slot retries exhausted, forcing handoff",
					"session", sess.Key, "intent", intentName, "slot", missing.Name)
				return TurnResult{ForceHandoff: true}
			}
			sess.PendingSlot = missing.Name
			m.setState(sess, domain.StateAwaitingIntent)
			return TurnResult{Response: missing.Prompt}
		}
	}

	return m.fulfill(ctx, sess, env, intent, known)
}

// slotFillTurn handles a turn that answers a slot prompt. The raw utterance
// fills the slot; a classifier pass may refine it with a typed entity, and a
// classifier deadline degrades to a rephrase prompt rather than failing.
func (m *Manager) slotFillTurn(ctx context.Context, sess *domain.Session, env domain.Envelope) TurnResult {
	slot := sess.PendingSlot

	out := m.classify(ctx, sess, env.Body)
	if out.fellBack && errors.Is(out.cause, context.DeadlineExceeded) {
		m.logger.Warn("slot resolution timed out, asking user to rephrase",
			"session", sess.Key, "slot", slot, "err", domain.ErrSlotResolutionTimeout)
		m.setState(sess, domain.StateResolving)
		m.setState(sess, domain.StateResponding)
		return TurnResult{Response: m.pb.Response(playbook.RespRephrase)}
	}

	value := strings.TrimSpace(env.Body)
	if !out.fellBack {
		if typed, ok := out.result.Entities[slot]; ok && typed != "" {
			value = typed
		}
	}

	sess.Context[slot] = value
	sess.PendingSlot = ""
	m.setState(sess, domain.StateResolving)
	return m.accept(ctx, sess, env, sess.PendingIntent)
}

// confirmationTurn handles AwaitingConfirmation: yes commits the pending
// intent, no abandons it, anything else is treated as a fresh utterance.
func (m *Manager) confirmationTurn(ctx context.Context, sess *domain.Session, env domain.Envelope) TurnResult {
	switch interpretConfirmation(env.Body) {
	case confirmYes:
		m.setState(sess, domain.StateResolving)
		return m.accept(ctx, sess, env, sess.PendingIntent)
	case confirmNo:
		sess.PendingIntent = ""
		sess.ConsecutiveNoMatch++
		m.setState(sess, domain.StateResponding)
		return TurnResult{Response: m.pb.Response(playbook.RespNoMatch)}
	default:
		sess.PendingIntent = ""
		m.setState(sess, domain.StateResolving)
		out := m.classify(ctx, sess, env.Body)
		if out.fellBack {
			sess.ConsecutiveNoMatch++
			m.setState(sess, domain.StateResponding)
			return TurnResult{Response: m.pb.Fallback(config.DepClassifier)}
		}
		return m.resolve(ctx, sess, env, out.result)
	}
}

// fulfill produces the answer for a fully-slotted intent: knowledge lookup,
// optional ticket creation, counters reset.
func (m *Manager) fulfill(ctx context.Context, sess *domain.Session, env domain.Envelope, intent playbook.Intent, known bool) TurnResult {
	m.setState(sess, domain.StateResponding)

	answer := m.answerFromKnowledge(ctx, env.Body)
	if answer == "" {
		if known && intent.Answer != "" {
			answer = intent.Answer
		} else {
			answer = m.pb.Fallback(config.DepKnowledge)
		}
	}

	if known && intent.CreatesTicket {
		answer = answer + "\n" + m.fileTicket(ctx, sess, env, intent)
	}

	sess.ConsecutiveNoMatch = 0
	sess.SlotRetries = 0
	sess.PendingIntent = ""
	sess.PendingSlot = ""

	return TurnResult{Response: answer}
}

// answerFromKnowledge searches the knowledge base through its breaker and
// renders the best snippets. Returns "" when nothing useful came back.
func (m *Manager) answerFromKnowledge(ctx context.Context, query string) string {
	out, err := m.breakers.Do(ctx, config.DepKnowledge, func(ctx context.Context) (any, error) {
		return m.knowledge.Search(ctx, query, m.opts.KnowledgeTopK)
	})
	if err != nil || out == nil {
		return ""
	}
	snippets, ok := out.([]domain.KnowledgeSnippet)
	if !ok || len(snippets) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(snippets[0].Snippet)
	if len(snippets) > 1 {
		sb.WriteString("\n\nRelated: ")
		sb.WriteString(snippets[1].Snippet)
	}
	return sb.String()
}

// fileTicket creates a ticket through its breaker; the fallback acknowledges
// the queued-for-retry path.
func (m *Manager) fileTicket(ctx context.Context, sess *domain.Session, env domain.Envelope, intent playbook.Intent) string {
	out, err := m.breakers.Do(ctx, config.DepTicket, func(ctx context.Context) (any, error) {
		return m.ticket.CreateTicket(ctx, domain.TicketRequest{
			Title:       fmt.Sprintf("[%s] %s", intent.Name, firstLine(env.Body)),
			Description: env.Body,
			RequesterID: sess.Key,
			Priority:    intent.TicketPriority,
		})
	})
	if err != nil || out == nil {
		return m.pb.Response(playbook.RespTicketQueued)
	}
	ticketID, ok := out.(string)
	if !ok || ticketID == "" {
		return m.pb.Response(playbook.RespTicketQueued)
	}
	return fmt.Sprintf(m.pb.Response(playbook.RespTicketFiled), ticketID)
}

// classify calls the intent classifier through its breaker.
func (m *Manager) classify(ctx context.Context, sess *domain.Session, text string) classifyOutcome {
	out, err := m.breakers.Do(ctx, config.DepClassifier, func(ctx context.Context) (any, error) {
		result, err := m.classifier.Classify(ctx, text, sess.Context)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil || out == nil {
		return classifyOutcome{fellBack: true, cause: err}
	}
	switch v := out.(type) {
	case domain.IntentResult:
		return classifyOutcome{result: v}
	case classifyOutcome:
		return v
	}
	return classifyOutcome{fellBack: true}
}

// scoreSentiment updates the session's sentiment through the analyzer's
// breaker. The fallback keeps the previous score.
func (m *Manager) scoreSentiment(ctx context.Context, sess *domain.Session, text string) {
	out, err := m.breakers.Do(ctx, config.DepSentiment, func(ctx context.Context) (any, error) {
		return m.sentiment.Score(ctx, text)
	})
	if err != nil || out == nil {
		return
	}
	if score, ok := out.(float64); ok {
		sess.LastSentiment = score
	}
}

func (m *Manager) missingSlot(sess *domain.Session, intent playbook.Intent) (playbook.Slot, bool) {
	for _, slot := range intent.RequiredSlots {
		if sess.Context[slot.Name] == "" {
			return slot, true
		}
	}
	return playbook.Slot{}, false
}

// setState performs a validated dialog transition. Illegal edges indicate a
// bug; they are logged and rejected rather than corrupting the session.
func (m *Manager) setState(sess *domain.Session, to domain.DialogState) {
	if sess.State == to {
		return
	}
	if !canTransition(sess.State, to) {
		m.logger.Error("illegal dialog transition rejected",
			"session", sess.Key, "from", sess.State, "to", to)
		return
	}
	m.logger.Debug("dialog transition", "session", sess.Key, "from", sess.State, "to", to)
	sess.State = to
}

type confirmation int

const (
	confirmAmbiguous confirmation = iota
	confirmYes
	confirmNo
)

func interpretConfirmation(text string) confirmation {
	switch strings.ToLower(strings.TrimSpace(strings.TrimRight(text, ".!"))) {
	case "yes", "y", "yeah", "yep", "correct", "right", "sure", "that's right", "exactly":
		return confirmYes
	case "no", "n", "nope", "wrong", "not that", "no thanks":
		return confirmNo
	}
	return confirmAmbiguous
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, "\n\r"); idx > 0 {
		s = s[:idx]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
