package core

import "context"

// Gateway is the outbound chat-messaging delivery API consumed by
// notification handlers. Implementations live outside this module;
// failures here are the canonical trigger for circuit breaker
// RecordFailure.
type Gateway interface {
	// Send delivers content to a destination and returns the provider's
	// delivery identifier.
	Send(ctx context.Context, destination string, content []byte) (deliveryID string, err error)
}
