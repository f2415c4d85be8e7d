package domain

import (
	"errors"
	"fmt"
)

// Failure classes. Every concrete error below wraps exactly one of them so
// callers can decide how loudly to log with errors.Is.
var (
	ErrStateViolation = errors.New("state violation")
	ErrRoutingFailure = errors.New("routing failure")
	ErrStaleMessage   = errors.New("stale message")
)

var (
	ErrInvalidStateTransition = fmt.Errorf("%w: invalid state transition", ErrStateViolation)
	ErrUnexpectedAnswer       = fmt.Errorf("%w: unexpected answer", ErrStateViolation)
	ErrSessionClosed          = fmt.Errorf("%w: session closed", ErrStateViolation)
	ErrGlareIgnored           = fmt.Errorf("%w: offer ignored during glare", ErrStateViolation)

	ErrRecipientBufferFull = fmt.Errorf("%w: recipient send buffer full", ErrRoutingFailure)
)

var (
	ErrRoomFull    = errors.New("room is full")
	ErrInvalidJoin = errors.New("join requires identity and room")
	ErrNotInRoom   = errors.New("participant is not in a room")

	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingDestination = errors.New("message has no destination")
	ErrSelfAddressed      = errors.New("message addressed to sender")

	ErrNotJoined = errors.New("not joined to a room")
	ErrNoSession = errors.New("no active call session")
)
