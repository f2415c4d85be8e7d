package service

import (
	"context"
	"sync"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/core/port"
	"github.com/Wyydra/duo/internal/metrics"
	"github.com/rs/zerolog/log"
)

// DefaultMaxRoomMembers keeps rooms strictly pairwise.
const DefaultMaxRoomMembers = 2

// RoomDirectory tracks which participant is in which room under which
// identity. It is shared by every connection.
type RoomDirectory struct {
	mu           sync.RWMutex
	participants map[domain.ParticipantID]*domain.Participant
	rooms        map[domain.RoomName]*domain.Room

	maxMembers int
	gateway    port.RealTimeGateway
	metrics    *metrics.Metrics
}

// NewRoomDirectory creates a directory that lets at most maxMembers into a
// room. maxMembers <= 0 means unlimited.
func NewRoomDirectory(gateway port.RealTimeGateway, maxMembers int, m *metrics.Metrics) *RoomDirectory {
	return &RoomDirectory{
		participants: make(map[domain.ParticipantID]*domain.Participant),
		rooms:        make(map[domain.RoomName]*domain.Room),
		maxMembers:   maxMembers,
		gateway:      gateway,
		metrics:      m,
	}
}

type notification struct {
	to  domain.ParticipantID
	env domain.Envelope
}

// Join puts id into room under identity. The caller is acknowledged first,
// then every other member gets peer-joined exactly once. Joining a second
// room leaves the first one.
func (d *RoomDirectory) Join(ctx context.Context, id domain.ParticipantID, identity string, room domain.RoomName) (domain.JoinAckPayload, error) {
	if identity == "" || room == "" {
		d.metrics.Inc(metrics.JoinsRejected)
		return domain.JoinAckPayload{}, domain.ErrInvalidJoin
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, known := d.participants[id]
	if known && p.Room == room {
		ack := d.ackLocked(p)
		log.Debug().Str("participant_id", id.String()).Str("room", room.String()).Msg("Repeated join, re-acknowledging")
		d.deliverLocked(ctx, []notification{{to: id, env: domain.MustEnvelope(domain.MessageJoinAck, "", ack)}})
		return ack, nil
	}

	r, exists := d.rooms[room]
	if exists && d.maxMembers > 0 && len(r.Members) >= d.maxMembers {
		d.metrics.Inc(metrics.JoinsRejected)
		log.Info().Str("participant_id", id.String()).Str("room", room.String()).Msg("Join rejected, room is full")
		return domain.JoinAckPayload{}, domain.ErrRoomFull
	}

	var out []notification
	if known && p.Room != "" {
		out = append(out, d.leaveLocked(p)...)
	}
	if !known {
		p = &domain.Participant{ID: id}
		d.participants[id] = p
	}
	if !exists {
		r = domain.NewRoom(room)
		d.rooms[room] = r
	}

	p.Identity = identity
	p.Room = room
	r.Add(id)

	ack := d.ackLocked(p)
	out = append(out, notification{to: id, env: domain.MustEnvelope(domain.MessageJoinAck, "", ack)})
	joined := domain.PeerInfo{Identity: identity, ParticipantID: id}
	for _, other := range r.Others(id) {
		out = append(out, notification{to: other, env: domain.MustEnvelope(domain.MessagePeerJoined, "", joined)})
	}

	d.metrics.Inc(metrics.Joins)
	log.Info().
		Str("participant_id", id.String()).
		Str("room", room.String()).
		Int("count", len(r.Members)).
		Msg("Participant joined room")

	d.deliverLocked(ctx, out)
	return ack, nil
}

// Leave removes id from its room and tells the members that stay.
func (d *RoomDirectory) Leave(ctx context.Context, id domain.ParticipantID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.participants[id]
	if !ok || p.Room == "" {
		return domain.ErrNotInRoom
	}
	d.deliverLocked(ctx, d.leaveLocked(p))
	return nil
}

// Forget drops every trace of a disconnected participant.
func (d *RoomDirectory) Forget(ctx context.Context, id domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.participants[id]
	if !ok {
		return
	}
	if p.Room != "" {
		d.deliverLocked(ctx, d.leaveLocked(p))
	}
	delete(d.participants, id)
}

func (d *RoomDirectory) leaveLocked(p *domain.Participant) []notification {
	room := p.Room
	p.Room = ""

	r, ok := d.rooms[room]
	if !ok || !r.Remove(p.ID) {
		return nil
	}
	d.metrics.Inc(metrics.Leaves)

	left := domain.PeerLeftPayload{ParticipantID: p.ID, Identity: p.Identity}
	out := make([]notification, 0, len(r.Members))
	for _, other := range r.Members {
		out = append(out, notification{to: other, env: domain.MustEnvelope(domain.MessagePeerLeft, "", left)})
	}
	if r.Empty() {
		delete(d.rooms, room)
		log.Debug().Str("room", room.String()).Msg("Room deleted")
	}
	log.Info().
		Str("participant_id", p.ID.String()).
		Str("room", room.String()).
		Int("count", len(r.Members)).
		Msg("Participant left room")
	return out
}

func (d *RoomDirectory) ackLocked(p *domain.Participant) domain.JoinAckPayload {
	ack := domain.JoinAckPayload{
		Identity:      p.Identity,
		Room:          p.Room,
		ParticipantID: p.ID,
	}
	if r, ok := d.rooms[p.Room]; ok {
		for _, other := range r.Others(p.ID) {
			if op, ok := d.participants[other]; ok {
				ack.Members = append(ack.Members, domain.PeerInfo{Identity: op.Identity, ParticipantID: other})
			}
		}
	}
	return ack
}

// deliverLocked runs under d.mu so every recipient sees room events in the
// order the directory applied them. The gateway must not block. Failures only
// mean the recipient is gone.
func (d *RoomDirectory) deliverLocked(ctx context.Context, out []notification) {
	for _, n := range out {
		if err := d.gateway.Deliver(ctx, n.to, n.env); err != nil {
			log.Warn().Err(err).
				Str("to", n.to.String()).
				Str("type", string(n.env.Type)).
				Msg("Failed to deliver room event")
		}
	}
}

// RoomOf returns the room id is in, if any.
func (d *RoomDirectory) RoomOf(id domain.ParticipantID) (domain.RoomName, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[id]
	if !ok || p.Room == "" {
		return "", false
	}
	return p.Room, true
}

// Members returns a copy of the room's members in join order.
func (d *RoomDirectory) Members(room domain.RoomName) []domain.ParticipantID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[room]
	if !ok {
		return nil
	}
	return append([]domain.ParticipantID(nil), r.Members...)
}

func (d *RoomDirectory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
