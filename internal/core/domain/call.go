package domain

type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateOfferSent
	StateStable
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CallSession is a snapshot of one side of a call.
type CallSession struct {
	Local                ParticipantID
	Remote               ParticipantID
	State                NegotiationState
	PendingRenegotiation bool
	// Renegotiating tells which kind of offer is outstanding while State is
	// StateOfferSent: the first call offer or a renegotiation offer.
	Renegotiating bool
}

// Polite reports whether the local side yields during glare.
func (s CallSession) Polite() bool {
	return s.Local.Less(s.Remote)
}

type CallEventKind string

const (
	EventJoined       CallEventKind = "joined"
	EventPeerJoined   CallEventKind = "peer-joined"
	EventPeerLeft     CallEventKind = "peer-left"
	EventStateChanged CallEventKind = "state-changed"
	EventCallEnded    CallEventKind = "call-ended"
	EventError        CallEventKind = "error"
)

// CallEvent is what the orchestrator reports to whatever draws the call UI.
type CallEvent struct {
	Kind    CallEventKind
	Peer    Participant
	Room    RoomName
	Session CallSession
	Err     error
}
