package domain

import "errors"

// Error taxonomy. Only input, capacity, and terminal errors are ever
// user-visible; dependency and consistency errors are recovered internally.
var (
	// ErrMalformedInput is rejected at the gateway boundary and never
	// reaches the dialog manager.
	ErrMalformedInput = errors.New("malformed input")

	// ErrSessionOverloaded is returned synchronously when a session's turn
	// queue is full; the channel layer decides whether to retry.
	ErrSessionOverloaded = errors.New("session overloaded")

	// ErrVersionConflict means a concurrent writer mutated the session
	// between read and write. The router retries this internally.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrSessionTerminal is returned for turns arriving on a closed or
	// expired session; the gateway should start a new session.
	ErrSessionTerminal = errors.New("session terminal")

	// ErrSlotResolutionTimeout marks an entity-enrichment call that
	// exceeded its deadline; the turn degrades to a rephrase prompt.
	ErrSlotResolutionTimeout = errors.New("slot resolution timeout")

	// ErrBreakerOpen is handed to a dependency's fallback when the call was
	// short-circuited without reaching the dependency.
	ErrBreakerOpen = errors.New("circuit breaker open")
)
