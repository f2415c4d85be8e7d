package domain

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	MessageJoin       MessageType = "join"
	MessageLeave      MessageType = "leave"
	MessageJoinAck    MessageType = "join-ack"
	MessagePeerJoined MessageType = "peer-joined"
	MessagePeerLeft   MessageType = "peer-left"
	MessageError      MessageType = "error"

	MessageCallOffer           MessageType = "call-offer"
	MessageIncomingCall        MessageType = "incoming-call"
	MessageCallAnswer          MessageType = "call-answer"
	MessageRenegotiationOffer  MessageType = "renegotiation-offer"
	MessageRenegotiationAnswer MessageType = "renegotiation-answer"
	MessageRenegotiationDone   MessageType = "renegotiation-complete"
	MessageCallEnd             MessageType = "call-end"
)

// deliveredAs maps what a sender relays to what the receiver sees. The
// renegotiation answer is renamed so the original offerer can tell the end of
// its own exchange apart from a fresh offer.
var deliveredAs = map[MessageType]MessageType{
	MessageCallOffer:           MessageIncomingCall,
	MessageCallAnswer:          MessageCallAnswer,
	MessageRenegotiationOffer:  MessageRenegotiationOffer,
	MessageRenegotiationAnswer: MessageRenegotiationDone,
	MessageCallEnd:             MessageCallEnd,
}

// Relayable reports whether t is forwarded peer to peer by the relay.
func (t MessageType) Relayable() bool {
	_, ok := deliveredAs[t]
	return ok
}

// Delivered returns the type the receiver sees for a relayed message of type t.
func (t MessageType) Delivered() (MessageType, bool) {
	d, ok := deliveredAs[t]
	return d, ok
}

// Envelope is the single frame exchanged over the signaling socket.
type Envelope struct {
	Type    MessageType     `json:"type"`
	To      ParticipantID   `json:"to,omitempty"`
	From    ParticipantID   `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	Identity string   `json:"identity"`
	Room     RoomName `json:"room"`
}

type PeerInfo struct {
	Identity      string        `json:"identity"`
	ParticipantID ParticipantID `json:"participantId"`
}

type JoinAckPayload struct {
	Identity      string        `json:"identity"`
	Room          RoomName      `json:"room"`
	ParticipantID ParticipantID `json:"participantId"`
	Members       []PeerInfo    `json:"members,omitempty"`
}

type PeerLeftPayload struct {
	ParticipantID ParticipantID `json:"participantId"`
	Identity      string        `json:"identity,omitempty"`
}

// Error codes sent to clients in error messages.
const (
	CodeRoomFull    = "room-full"
	CodeInvalidJoin = "invalid-join"
	CodeNotInRoom   = "not-in-room"
	CodeBadMessage  = "bad-message"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Err turns a received error message back into an error that matches the
// sentinel the server rejected with.
func (p ErrorPayload) Err() error {
	var base error
	switch p.Code {
	case CodeRoomFull:
		base = ErrRoomFull
	case CodeInvalidJoin:
		base = ErrInvalidJoin
	case CodeNotInRoom:
		base = ErrNotInRoom
	default:
		return fmt.Errorf("server error %s: %s", p.Code, p.Message)
	}
	return fmt.Errorf("server error: %w", base)
}

type OfferPayload struct {
	Offer SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	Answer SessionDescription `json:"answer"`
}

// NewEnvelope marshals payload into an envelope addressed to to. A nil payload
// leaves the payload field out.
func NewEnvelope(t MessageType, to ParticipantID, payload any) (Envelope, error) {
	env := Envelope{Type: t, To: to}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// MustEnvelope is NewEnvelope for payload types that always marshal.
func MustEnvelope(t MessageType, to ParticipantID, payload any) Envelope {
	env, err := NewEnvelope(t, to, payload)
	if err != nil {
		panic(err)
	}
	return env
}

func NewErrorEnvelope(code, message string) Envelope {
	return MustEnvelope(MessageError, "", ErrorPayload{Code: code, Message: message})
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

func (e Envelope) Offer() (SessionDescription, error) {
	var p OfferPayload
	if err := e.Decode(&p); err != nil {
		return SessionDescription{}, err
	}
	if err := p.Offer.Validate(KindOffer); err != nil {
		return SessionDescription{}, fmt.Errorf("%s: %w", e.Type, err)
	}
	return p.Offer, nil
}

func (e Envelope) Answer() (SessionDescription, error) {
	var p AnswerPayload
	if err := e.Decode(&p); err != nil {
		return SessionDescription{}, err
	}
	if err := p.Answer.Validate(KindAnswer); err != nil {
		return SessionDescription{}, fmt.Errorf("%s: %w", e.Type, err)
	}
	return p.Answer, nil
}
