package connector

import (
	"fmt"
	"log/slog"

	"deskbot/internal/config"
	"deskbot/internal/domain"
)

// Set bundles the five external service implementations the orchestrator
// needs.
type Set struct {
	Classifier domain.IntentClassifier
	Sentiment  domain.SentimentAnalyzer
	Knowledge  domain.KnowledgeConnector
	Ticket     domain.TicketConnector
	HumanQueue domain.HumanQueue
}

// Build constructs the connector set from config. Unconfigured dependencies
// default to the local implementations.
func Build(cfgs map[string]config.ConnectorConfig, logger *slog.Logger) (*Set, error) {
	set := &Set{}

	for _, name := range []string{
		config.DepClassifier, config.DepSentiment, config.DepKnowledge,
		config.DepTicket, config.DepHumanQueue,
	} {
		cc, ok := cfgs[name]
		if !ok {
			cc = config.ConnectorConfig{Mode: "local"}
		}
		switch cc.Mode {
		case "", "local":
			set.assignLocal(name, logger)
		case "http":
			if cc.URL == "" {
				return nil, fmt.Errorf("connector %q: http mode requires a url", name)
			}
			set.assignHTTP(name, cc, logger)
		default:
			return nil, fmt.Errorf("connector %q: unknown mode %q", name, cc.Mode)
		}
	}
	return set, nil
}

// Local returns a set backed entirely by the built-in implementations.
func Local(logger *slog.Logger) *Set {
	return &Set{
		Classifier: NewKeywordClassifier(nil),
		Sentiment:  NewLexiconSentiment(),
		Knowledge:  NewStaticKnowledge(),
		Ticket:     NewMemoryTicket(logger),
		HumanQueue: NewMemoryQueue(logger),
	}
}

func (s *Set) assignLocal(name string, logger *slog.Logger) {
	switch name {
	case config.DepClassifier:
		s.Classifier = NewKeywordClassifier(nil)
	case config.DepSentiment:
		s.Sentiment = NewLexiconSentiment()
	case config.DepKnowledge:
		s.Knowledge = NewStaticKnowledge()
	case config.DepTicket:
		s.Ticket = NewMemoryTicket(logger)
	case config.DepHumanQueue:
		s.HumanQueue = NewMemoryQueue(logger)
	}
}

func (s *Set) assignHTTP(name string, cc config.ConnectorConfig, logger *slog.Logger) {
	switch name {
	case config.DepClassifier:
		s.Classifier = NewHTTPClassifier(cc.URL, cc.APIKey, logger)
	case config.DepSentiment:
		s.Sentiment = NewHTTPSentiment(cc.URL, cc.APIKey, logger)
	case config.DepKnowledge:
		s.Knowledge = NewHTTPKnowledge(cc.URL, cc.APIKey, logger)
	case config.DepTicket:
		s.Ticket = NewHTTPTicket(cc.URL, cc.APIKey, logger)
	case config.DepHumanQueue:
		s.HumanQueue = NewHTTPQueue(cc.URL, cc.APIKey, logger)
	}
}
