package domain

import (
	"errors"
	"fmt"
)

type DescriptionKind string

const (
	KindOffer  DescriptionKind = "offer"
	KindAnswer DescriptionKind = "answer"
)

// SessionDescription is produced and consumed by the connectivity engine.
// Nothing outside the negotiation engine looks inside Body.
type SessionDescription struct {
	Kind DescriptionKind `json:"type"`
	Body string          `json:"sdp"`
}

func NewOffer(body string) SessionDescription {
	return SessionDescription{Kind: KindOffer, Body: body}
}

func NewAnswer(body string) SessionDescription {
	return SessionDescription{Kind: KindAnswer, Body: body}
}

func (d SessionDescription) Validate(want DescriptionKind) error {
	if d.Kind != want {
		return fmt.Errorf("session description has type %q, want %q", d.Kind, want)
	}
	if d.Body == "" {
		return errors.New("session description is empty")
	}
	return nil
}
