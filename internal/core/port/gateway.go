package port

import (
	"context"

	"github.com/Wyydra/duo/internal/core/domain"
)

// RealTimeGateway delivers envelopes to connected participants. Deliver
// returns an error wrapping domain.ErrRoutingFailure when the recipient
// cannot be reached. Deliver must not block: callers may hold locks that
// order events across recipients.
type RealTimeGateway interface {
	Deliver(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error
}

// Signaler is the client side outbound channel to the signaling server.
type Signaler interface {
	Send(ctx context.Context, env domain.Envelope) error
}
