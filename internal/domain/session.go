package domain

import "time"

// DialogState is the position of a session in the conversation state machine.
type DialogState string

const (
	StateIdle                 DialogState = "idle"
	StateAwaitingIntent       DialogState = "awaiting_intent"
	StateResolving            DialogState = "resolving"
	StateAwaitingConfirmation DialogState = "awaiting_confirmation"
	StateResponding           DialogState = "responding"
	StateHandoffPending       DialogState = "handoff_pending"
	StateClosed               DialogState = "closed"
	StateExpired              DialogState = "expired"
)

// Terminal reports whether a session in this state accepts no further turns.
func (s DialogState) Terminal() bool {
	return s == StateClosed || s == StateExpired
}

// TranscriptEntry is one message retained in the session transcript.
type TranscriptEntry struct {
	Direction     Direction `json:"direction"`
	Body          string    `json:"body"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Session is the unit of conversational state. It is owned by the session
// store and mutated only through the router's single-writer path; Version
// backs the store's optimistic concurrency check.
type Session struct {
	Key        string
	State      DialogState
	Context    map[string]string // slot name → extracted value
	Transcript []TranscriptEntry // append-only, trimmed to retention length

	ConsecutiveNoMatch int
	LastSentiment      float64
	SlotRetries        int
	PendingIntent      string // intent awaiting confirmation or missing slots
	PendingSlot        string // slot the user was last prompted for
	HandoffReason      string // set once a handoff is triggered, for retried delivery

	Version        int64
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// NewSession creates a fresh idle session with the given TTL.
func NewSession(key string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		Key:            key,
		State:          StateIdle,
		Context:        make(map[string]string),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}
}

// Touch records activity and pushes the expiry forward.
func (s *Session) Touch(ttl time.Duration) {
	now := time.Now()
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(ttl)
}

// Append adds an entry to the transcript, trimming the oldest entries when
// the retention length is exceeded.
func (s *Session) Append(entry TranscriptEntry, retention int) {
	s.Transcript = append(s.Transcript, entry)
	if retention > 0 && len(s.Transcript) > retention {
		s.Transcript = s.Transcript[len(s.Transcript)-retention:]
	}
}

// SnapshotTranscript returns a copy of the transcript for handoff delivery.
func (s *Session) SnapshotTranscript() []TranscriptEntry {
	out := make([]TranscriptEntry, len(s.Transcript))
	copy(out, s.Transcript)
	return out
}
