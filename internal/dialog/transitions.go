package dialog

import "deskbot/internal/domain"

// validTransitions defines the allowed dialog state transitions. HandoffPending
// is reachable from any non-terminal state (the handoff controller drives that
// edge), and Expired is reached only through the TTL sweeper, so neither needs
// rows here beyond their own exits.
var validTransitions = map[domain.DialogState]map[domain.DialogState]bool{
	domain.StateIdle: {
		domain.StateAwaitingIntent: true,
	},
	domain.StateAwaitingIntent: {
		domain.StateResolving:  true,
		domain.StateResponding: true, // classifier fallback path
	},
	domain.StateResolving: {
		domain.StateAwaitingConfirmation: true,
		domain.StateResponding:           true,
		domain.StateAwaitingIntent:       true, // missing slot re-prompt
	},
	domain.StateAwaitingConfirmation: {
		domain.StateResolving:      true, // confirmed, or fresh utterance
		domain.StateAwaitingIntent: true, // denied
		domain.StateResponding:     true,
	},
	domain.StateResponding: {
		domain.StateIdle: true, // normal turn completion
	},
	domain.StateHandoffPending: {
		domain.StateClosed: true,
	},
}

// canTransition reports whether from → to is a legal dialog edge.
func canTransition(from, to domain.DialogState) bool {
	if to == domain.StateHandoffPending {
		return !from.Terminal()
	}
	allowed, ok := validTransitions[from]
	return ok && allowed[to]
}
