package connector

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"deskbot/internal/config"
	"deskbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(nil)

	tests := []struct {
		text       string
		wantIntent string
		minConf    float64
	}{
		{"I forgot my password and I'm locked out", "password_reset", 0.7},
		{"the mail server is down, total outage", "report_outage", 0.7},
		{"how do I map a network drive", "general_question", 0.3},
	}
	for _, tt := range tests {
		res, err := c.Classify(context.Background(), tt.text, nil)
		if err != nil {
			t.Fatalf("Classify(%q): %v", tt.text, err)
		}
		if res.IntentName != tt.wantIntent {
			t.Errorf("Classify(%q) intent = %q, want %q", tt.text, res.IntentName, tt.wantIntent)
		}
		if res.Confidence < tt.minConf {
			t.Errorf("Classify(%q) confidence = %v, want >= %v", tt.text, res.Confidence, tt.minConf)
		}
	}

	res, err := c.Classify(context.Background(), "zzz qqq", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Confidence != 0 {
		t.Errorf("nonsense input confidence = %v, want 0", res.Confidence)
	}
}

func TestLexiconSentiment(t *testing.T) {
	s := NewLexiconSentiment()

	neg, err := s.Score(context.Background(), "this is useless and I am furious")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if neg >= 0 {
		t.Errorf("negative text scored %v, want < 0", neg)
	}

	pos, err := s.Score(context.Background(), "great, thanks, that works")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if pos <= 0 {
		t.Errorf("positive text scored %v, want > 0", pos)
	}

	neutral, err := s.Score(context.Background(), "my monitor shows a blue screen")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if neutral != 0 {
		t.Errorf("neutral text scored %v, want 0", neutral)
	}
}

func TestStaticKnowledgeSearch(t *testing.T) {
	k := NewStaticKnowledge()

	results, err := k.Search(context.Background(), "my vpn keeps disconnecting from the network", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("want at least one hit for a VPN query")
	}
	if results[0].SourceID != "kb-vpn" {
		t.Errorf("top hit = %s, want kb-vpn", results[0].SourceID)
	}

	results, err = k.Search(context.Background(), "quantum flux capacitor", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("unrelated query returned %d hits, want 0", len(results))
	}
}

func TestMemoryQueueIdempotentAcks(t *testing.T) {
	q := NewMemoryQueue(testLogger())
	req := domain.HandoffRequest{SessionKey: "web:u1", Reason: domain.ReasonExplicit}

	ack1, err := q.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ack2, err := q.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if ack1 != ack2 {
		t.Errorf("acks differ (%q vs %q), want the same ack for the same sessionKey+reason", ack1, ack2)
	}

	other, err := q.Enqueue(context.Background(), domain.HandoffRequest{
		SessionKey: "web:u1", Reason: domain.ReasonRepeatedNoMatch,
	})
	if err != nil {
		t.Fatalf("Enqueue other reason: %v", err)
	}
	if other == ack1 {
		t.Error("different reason should produce a new queue entry")
	}
}

func TestHTTPClassifierRoundTrip(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"intentName": "password_reset",
			"confidence": 0.93,
			"entities":   map[string]string{"username": "jdoe"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, "key-123", testLogger())
	res, err := c.Classify(context.Background(), "reset jdoe's password", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.IntentName != "password_reset" || res.Confidence != 0.93 || res.Entities["username"] != "jdoe" {
		t.Errorf("result = %+v", res)
	}
	if gotAuth != "Bearer key-123" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
}

func TestHTTPConnectorSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPSentiment(srv.URL, "", testLogger())
	if _, err := s.Score(context.Background(), "hello"); err == nil {
		t.Error("want an error on HTTP 500 so the breaker counts the failure")
	}
}

func TestBuildSelectsModes(t *testing.T) {
	set, err := Build(map[string]config.ConnectorConfig{
		config.DepClassifier: {Mode: "http", URL: "http://classifier.internal/v1"},
		config.DepSentiment:  {Mode: "local"},
	}, testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := set.Classifier.(*HTTPClassifier); !ok {
		t.Errorf("classifier = %T, want *HTTPClassifier", set.Classifier)
	}
	if _, ok := set.Sentiment.(*LexiconSentiment); !ok {
		t.Errorf("sentiment = %T, want *LexiconSentiment", set.Sentiment)
	}
	if set.HumanQueue == nil || set.Ticket == nil || set.Knowledge == nil {
		t.Error("unconfigured connectors should default to local implementations")
	}

	if _, err := Build(map[string]config.ConnectorConfig{
		config.DepTicket: {Mode: "http"},
	}, testLogger()); err == nil {
		t.Error("http mode without url should fail")
	}
}
