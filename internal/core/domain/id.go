package domain

import (
	"github.com/google/uuid"
)

// ParticipantID identifies one connection for as long as it stays connected.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.New().String())
}

func (id ParticipantID) String() string {
	return string(id)
}

// Less orders ids lexicographically. The smaller id is the polite side of a session.
func (id ParticipantID) Less(other ParticipantID) bool {
	return id < other
}

type RoomName string

func (n RoomName) String() string {
	return string(n)
}
