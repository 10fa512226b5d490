package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"deskbot/internal/domain"
)

// KeywordClassifier is the built-in rule-based intent classifier: it scores
// each intent by keyword overlap with the utterance. Good enough for the
// interactive CLI and for deployments without an NLU service.
type KeywordClassifier struct {
	keywords map[string][]string // intent name → lowercased keywords
}

// DefaultIntentKeywords match the built-in playbook intents.
var DefaultIntentKeywords = map[string][]string{
	"password_reset":   {"password", "reset", "locked", "login", "credentials", "forgot"},
	"report_outage":    {"down", "outage", "broken", "crash", "unavailable", "offline", "failing"},
	"general_question": {"how", "what", "where", "when", "help", "question"},
}

func NewKeywordClassifier(keywords map[string][]string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultIntentKeywords
	}
	return &KeywordClassifier{keywords: keywords}
}

// Classify scores each configured intent and returns the best hit. The
// confidence is the fraction of that intent's keywords present, so a single
// hit on a broad intent lands between the floor and the confirmation
// threshold and produces a disambiguation turn.
func (c *KeywordClassifier) Classify(_ context.Context, text string, _ map[string]string) (domain.IntentResult, error) {
	words := tokenize(text)

	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	for name, keys := range c.keywords {
		hits := 0
		for _, key := range keys {
			if _, ok := words[key]; ok {
				hits++
			}
		}
		if hits > 0 {
			candidates = append(candidates, scored{name, float64(hits) / float64(len(keys))})
		}
	}
	if len(candidates) == 0 {
		return domain.IntentResult{Confidence: 0}, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	best := candidates[0]
	// Scale so a two-keyword hit clears the default confirmation threshold.
	confidence := best.score * 3
	if confidence > 1 {
		confidence = 1
	}
	return domain.IntentResult{IntentName: best.name, Confidence: confidence}, nil
}

// LexiconSentiment scores tone from small positive/negative word lists.
type LexiconSentiment struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

func NewLexiconSentiment() *LexiconSentiment {
	return &LexiconSentiment{
		positive: wordSet("thanks", "thank", "great", "good", "perfect", "awesome", "works", "solved", "please"),
		negative: wordSet("useless", "terrible", "awful", "angry", "frustrated", "ridiculous",
			"worst", "hate", "stupid", "broken", "unacceptable", "furious"),
	}
}

func (s *LexiconSentiment) Score(_ context.Context, text string) (float64, error) {
	words := tokenize(text)
	var pos, neg int
	for w := range words {
		if _, ok := s.positive[w]; ok {
			pos++
		}
		if _, ok := s.negative[w]; ok {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0, nil
	}
	return float64(pos-neg) / float64(total), nil
}

// knowledgeDoc is one entry in the static knowledge base.
type knowledgeDoc struct {
	sourceID string
	text     string
	words    map[string]struct{}
}

// StaticKnowledge answers searches by word overlap against a fixed set of
// documents.
type StaticKnowledge struct {
	mu   sync.RWMutex
	docs []knowledgeDoc
}

func NewStaticKnowledge() *StaticKnowledge {
	k := &StaticKnowledge{}
	k.Add("kb-vpn", "If the VPN keeps disconnecting, restart the VPN client and check that your network allows UDP port 443.")
	k.Add("kb-password", "Passwords can be reset at the self-service portal. Account lockouts clear automatically after 15 minutes.")
	k.Add("kb-email", "Email delivery delays are usually caused by mailbox quota. Archive old messages and retry.")
	k.Add("kb-printer", "Printer queues can be cleared from the print server dashboard. Re-add the printer if jobs still stall.")
	return k
}

// Add registers a document under a source ID.
func (k *StaticKnowledge) Add(sourceID, text string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.docs = append(k.docs, knowledgeDoc{sourceID: sourceID, text: text, words: tokenize(text)})
}

func (k *StaticKnowledge) Search(_ context.Context, queryText string, topK int) ([]domain.KnowledgeSnippet, error) {
	if topK <= 0 {
		topK = 3
	}
	query := tokenize(queryText)
	if len(query) == 0 {
		return nil, nil
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	var results []domain.KnowledgeSnippet
	for _, doc := range k.docs {
		overlap := 0
		for w := range query {
			if _, ok := doc.words[w]; ok {
				overlap++
			}
		}
		if overlap < 2 {
			continue
		}
		results = append(results, domain.KnowledgeSnippet{
			Snippet:        doc.text,
			SourceID:       doc.sourceID,
			RelevanceScore: float64(overlap) / float64(len(query)),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// MemoryTicket files tickets into a local counter, for the CLI and tests.
type MemoryTicket struct {
	seq    atomic.Int64
	logger *slog.Logger
}

func NewMemoryTicket(logger *slog.Logger) *MemoryTicket {
	return &MemoryTicket{logger: logger}
}

func (t *MemoryTicket) CreateTicket(_ context.Context, req domain.TicketRequest) (string, error) {
	id := fmt.Sprintf("TKT-%04d", t.seq.Add(1))
	t.logger.Info("ticket filed locally",
		"id", id, "title", req.Title, "requester", req.RequesterID, "priority", req.Priority)
	return id, nil
}

// MemoryQueue is the local human-agent queue: it logs handoffs and keeps an
// idempotent ack per sessionKey+reason, matching the contract remote queues
// must honor.
type MemoryQueue struct {
	mu     sync.Mutex
	acks   map[string]string
	seq    int64
	logger *slog.Logger
}

func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{acks: make(map[string]string), logger: logger}
}

func (q *MemoryQueue) Enqueue(_ context.Context, req domain.HandoffRequest) (string, error) {
	key := req.SessionKey + "|" + string(req.Reason)

	q.mu.Lock()
	defer q.mu.Unlock()
	if ack, ok := q.acks[key]; ok {
		return ack, nil
	}
	q.seq++
	ack := fmt.Sprintf("HQ-%04d", q.seq)
	q.acks[key] = ack
	q.logger.Info("handoff queued locally",
		"ack", ack, "session", req.SessionKey, "reason", req.Reason, "transcript", len(req.Transcript))
	return ack, nil
}

func (q *MemoryQueue) Forward(_ context.Context, sessionKey string, entry domain.TranscriptEntry) error {
	q.logger.Info("post-handoff message relayed locally", "session", sessionKey, "body", entry.Body)
	return nil
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"()")
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
