package dialog

import (
	"context"
	"fmt"

	"deskbot/internal/config"
)

// RegisterBreakers wires the dialog manager's four external dependencies
// into the breaker registry with their deterministic fallbacks. The
// human-queue dependency is registered by the handoff controller.
func (m *Manager) RegisterBreakers(deps map[string]config.DependencyConfig) error {
	for _, reg := range []struct {
		name     string
		fallback func(context.Context, error) (any, error)
	}{
		{config.DepClassifier, func(_ context.Context, cause error) (any, error) {
			// The dialog layer turns this into the canned classifier response.
			return classifyOutcome{fellBack: true, cause: cause}, nil
		}},
		{config.DepSentiment, func(context.Context, error) (any, error) {
			// Keep the previous sentiment score.
			return nil, nil
		}},
		{config.DepKnowledge, func(context.Context, error) (any, error) {
			// Empty result set; the caller substitutes the canned text.
			return nil, nil
		}},
		{config.DepTicket, func(context.Context, error) (any, error) {
			// Queued-for-retry acknowledgment.
			return nil, nil
		}},
	} {
		cfg, ok := deps[reg.name]
		if !ok {
			return fmt.Errorf("missing dependency config for %q", reg.name)
		}
		if err := m.breakers.Register(reg.name, cfg, reg.fallback); err != nil {
			return err
		}
	}
	return nil
}
