package ws

import (
	"fmt"

	"github.com/Wyydra/duo/internal/core/domain"
)

// ErrClientClosed is returned by Send once the connection is shutting down.
var ErrClientClosed = fmt.Errorf("%w: client closed", domain.ErrRoutingFailure)

// Client is one connected participant as seen by the hub. Send must not
// block; a client that cannot keep up returns domain.ErrRecipientBufferFull.
type Client interface {
	ID() domain.ParticipantID
	Send(env domain.Envelope) error
	Close() error
}
