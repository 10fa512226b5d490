package domain

import (
	"context"
	"time"
)

// IntentResult is the output of the external intent classifier. It lives for
// one turn; only entity values copied into Session.Context survive it.
type IntentResult struct {
	IntentName string
	Confidence float64 // in [0,1]
	Entities   map[string]string
}

// IntentClassifier is the contract the orchestrator expects from any
// natural-language classification service. Implementations must respect the
// caller's deadline; scoring and training internals are out of scope.
type IntentClassifier interface {
	Classify(ctx context.Context, text string, priorContext map[string]string) (IntentResult, error)
}

// SentimentAnalyzer scores the emotional tone of a message in [-1,1],
// negative values meaning frustration. Modeled as a black-box service.
type SentimentAnalyzer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// KnowledgeSnippet is one search hit from the knowledge connector.
type KnowledgeSnippet struct {
	Snippet        string
	SourceID       string
	RelevanceScore float64
}

// KnowledgeConnector searches the external knowledge base. Results are
// ordered by relevance and may be empty.
type KnowledgeConnector interface {
	Search(ctx context.Context, queryText string, topK int) ([]KnowledgeSnippet, error)
}

// TicketRequest asks the ITSM backend to open a ticket.
type TicketRequest struct {
	Title       string
	Description string
	RequesterID string
	Priority    string
}

// TicketConnector files tickets with the external ticketing system.
type TicketConnector interface {
	CreateTicket(ctx context.Context, req TicketRequest) (ticketID string, err error)
}

// HandoffReason explains why a conversation left automated processing.
type HandoffReason string

const (
	ReasonExplicit          HandoffReason = "explicit"
	ReasonLowConfidence     HandoffReason = "low_confidence"
	ReasonNegativeSentiment HandoffReason = "negative_sentiment"
	ReasonRepeatedNoMatch   HandoffReason = "repeated_no_match"
)

// HandoffRequest is the payload delivered to the human-agent queue. It is
// terminal: once delivered it never re-enters the dialog manager.
type HandoffRequest struct {
	SessionKey string
	Reason     HandoffReason
	Transcript []TranscriptEntry
	CreatedAt  time.Time
}

// HumanQueue delivers handoff requests to the human-agent queue. Delivery
// must be idempotent under retry: the same sessionKey+reason pair must not
// create duplicate queue entries.
type HumanQueue interface {
	Enqueue(ctx context.Context, req HandoffRequest) (ackID string, err error)
	// Forward relays a turn that arrived after the session was handed off,
	// so the human agent sees messages the bot no longer answers.
	Forward(ctx context.Context, sessionKey string, entry TranscriptEntry) error
}
