// Package connector holds the implementations behind the external service
// contracts: rule-based "local" versions for the CLI and tests, and JSON-
// over-HTTP clients for real deployments. Deadlines and failure isolation
// are owned by the breaker registry wrapped around every call, so these
// clients do not retry internally.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"deskbot/internal/domain"
)

// sharedHTTPClient returns a pooled HTTP client. The per-call deadline comes
// from the request context, so the client-level timeout is only a backstop.
func sharedHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: 60 * time.Second, Transport: transport}
}

// httpConnector is the shared plumbing for the JSON service clients.
type httpConnector struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

func newHTTPConnector(url, apiKey string, logger *slog.Logger) httpConnector {
	return httpConnector{url: url, apiKey: apiKey, client: sharedHTTPClient(), logger: logger}
}

// post sends one JSON request and decodes the JSON response into out.
func (h *httpConnector) post(ctx context.Context, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned HTTP %d: %s", h.url, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPClassifier calls a remote intent classification service.
type HTTPClassifier struct {
	httpConnector
}

func NewHTTPClassifier(url, apiKey string, logger *slog.Logger) *HTTPClassifier {
	return &HTTPClassifier{newHTTPConnector(url, apiKey, logger)}
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string, priorContext map[string]string) (domain.IntentResult, error) {
	var resp struct {
		IntentName string            `json:"intentName"`
		Confidence float64           `json:"confidence"`
		Entities   map[string]string `json:"entities"`
	}
	err := c.post(ctx, map[string]any{"text": text, "priorContext": priorContext}, &resp)
	if err != nil {
		return domain.IntentResult{}, err
	}
	return domain.IntentResult{
		IntentName: resp.IntentName,
		Confidence: resp.Confidence,
		Entities:   resp.Entities,
	}, nil
}

// HTTPSentiment calls a remote sentiment scoring service.
type HTTPSentiment struct {
	httpConnector
}

func NewHTTPSentiment(url, apiKey string, logger *slog.Logger) *HTTPSentiment {
	return &HTTPSentiment{newHTTPConnector(url, apiKey, logger)}
}

func (s *HTTPSentiment) Score(ctx context.Context, text string) (float64, error) {
	var resp struct {
		Score float64 `json:"score"`
	}
	if err := s.post(ctx, map[string]string{"text": text}, &resp); err != nil {
		return 0, err
	}
	return resp.Score, nil
}

// HTTPKnowledge searches a remote knowledge base.
type HTTPKnowledge struct {
	httpConnector
}

func NewHTTPKnowledge(url, apiKey string, logger *slog.Logger) *HTTPKnowledge {
	return &HTTPKnowledge{newHTTPConnector(url, apiKey, logger)}
}

func (k *HTTPKnowledge) Search(ctx context.Context, queryText string, topK int) ([]domain.KnowledgeSnippet, error) {
	var resp struct {
		Results []struct {
			Snippet        string  `json:"snippet"`
			SourceID       string  `json:"sourceId"`
			RelevanceScore float64 `json:"relevanceScore"`
		} `json:"results"`
	}
	err := k.post(ctx, map[string]any{"query": queryText, "topK": topK}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]domain.KnowledgeSnippet, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, domain.KnowledgeSnippet{
			Snippet:        r.Snippet,
			SourceID:       r.SourceID,
			RelevanceScore: r.RelevanceScore,
		})
	}
	return out, nil
}

// HTTPTicket files tickets with a remote ITSM endpoint.
type HTTPTicket struct {
	httpConnector
}

func NewHTTPTicket(url, apiKey string, logger *slog.Logger) *HTTPTicket {
	return &HTTPTicket{newHTTPConnector(url, apiKey, logger)}
}

func (t *HTTPTicket) CreateTicket(ctx context.Context, req domain.TicketRequest) (string, error) {
	var resp struct {
		TicketID string `json:"ticketId"`
	}
	err := t.post(ctx, map[string]string{
		"title":       req.Title,
		"description": req.Description,
		"requesterId": req.RequesterID,
		"priority":    req.Priority,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.TicketID == "" {
		return "", fmt.Errorf("%s returned no ticket id", t.url)
	}
	return resp.TicketID, nil
}

// HTTPQueue delivers handoff requests to a remote human-agent queue. The
// remote service owns dedup by sessionKey+reason; the handoff controller
// additionally suppresses duplicate submissions on this side.
type HTTPQueue struct {
	httpConnector
}

func NewHTTPQueue(url, apiKey string, logger *slog.Logger) *HTTPQueue {
	return &HTTPQueue{newHTTPConnector(url, apiKey, logger)}
}

func (q *HTTPQueue) Enqueue(ctx context.Context, req domain.HandoffRequest) (string, error) {
	var resp struct {
		AckID string `json:"ackId"`
	}
	err := q.post(ctx, map[string]any{
		"type":       "handoff",
		"sessionKey": req.SessionKey,
		"reason":     string(req.Reason),
		"transcript": req.Transcript,
		"createdAt":  req.CreatedAt,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AckID == "" {
		return "", fmt.Errorf("%s returned no ack id", q.url)
	}
	return resp.AckID, nil
}

func (q *HTTPQueue) Forward(ctx context.Context, sessionKey string, entry domain.TranscriptEntry) error {
	return q.post(ctx, map[string]any{
		"type":       "relay",
		"sessionKey": sessionKey,
		"direction":  string(entry.Direction),
		"body":       entry.Body,
		"timestamp":  entry.Timestamp,
	}, nil)
}
