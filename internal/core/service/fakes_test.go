package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/duo/internal/core/domain"
)

type delivery struct {
	to  domain.ParticipantID
	env domain.Envelope
}

// recordingGateway records every delivery. Participants in offline are unreachable.
type recordingGateway struct {
	mu         sync.Mutex
	deliveries []delivery
	offline    map[domain.ParticipantID]bool
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{offline: make(map[domain.ParticipantID]bool)}
}

func (g *recordingGateway) Deliver(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offline[to] {
		return fmt.Errorf("%w: %s offline", domain.ErrRoutingFailure, to)
	}
	g.deliveries = append(g.deliveries, delivery{to: to, env: env})
	return nil
}

func (g *recordingGateway) take() []delivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.deliveries
	g.deliveries = nil
	return out
}

func (g *recordingGateway) to(id domain.ParticipantID) []domain.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Envelope
	for _, d := range g.deliveries {
		if d.to == id {
			out = append(out, d.env)
		}
	}
	return out
}

// recordingSignaler keeps what an engine sends until the test pumps it.
type recordingSignaler struct {
	mu   sync.Mutex
	sent []domain.Envelope
	err  error
}

func (s *recordingSignaler) Send(ctx context.Context, env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordingSignaler) take() []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

func types(envs []domain.Envelope) []domain.MessageType {
	out := make([]domain.MessageType, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}
