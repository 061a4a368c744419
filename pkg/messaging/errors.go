package messaging

import "errors"

// Error taxonomy for the messaging engine. Callers branch on these with
// errors.Is; lower layers wrap them with context via fmt.Errorf %w.
var (
	// Key handling.
	ErrNoKeys        = errors.New("no keys loaded")
	ErrInvalidTarget = errors.New("invalid recipient public key")

	// Relay layer.
	ErrRelayTimeout    = errors.New("relay operation timed out")
	ErrRelayNetwork    = errors.New("relay network failure")
	ErrNoHealthyRelays = errors.New("no healthy relay connections")

	// Protocol layer. Inbound validation failures are dropped silently, so
	// only the rate limit surfaces as an error.
	ErrRateLimited = errors.New("rate limit exceeded")

	// Engine state.
	ErrNotInitialized  = errors.New("messaging service not initialized")
	ErrListenerRunning = errors.New("listener already running")
	ErrEmptyMessage    = errors.New("message content is empty")
)
