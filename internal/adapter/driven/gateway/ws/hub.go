package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Hub routes envelopes to connected clients by participant id.
// It implements port.RealTimeGateway.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.ParticipantID]Client
	stopped bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[domain.ParticipantID]Client),
	}
}

// Deliver hands env to the recipient's send queue. It never waits on the
// recipient's connection.
func (h *Hub) Deliver(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error {
	h.mu.RLock()
	client, ok := h.clients[to]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s is not connected", domain.ErrRoutingFailure, to)
	}
	return client.Send(env)
}

// Register makes c reachable. A client registered under an id already in use
// replaces the old one, which is closed.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		c.Close()
		return
	}
	old, replaced := h.clients[c.ID()]
	h.clients[c.ID()] = c
	count := len(h.clients)
	h.mu.Unlock()

	if replaced && old != c {
		old.Close()
	}
	log.Info().Str("client_id", c.ID().String()).Int("clients", count).Msg("Client registered")
}

// Unregister removes c and closes it. Unregistering a client that was
// already replaced leaves its successor alone.
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	current, ok := h.clients[c.ID()]
	if ok && current == c {
		delete(h.clients, c.ID())
	}
	h.mu.Unlock()

	if ok && current == c {
		c.Close()
		log.Info().Str("client_id", c.ID().String()).Msg("Client unregistered")
	}
}

func (h *Hub) Connected(id domain.ParticipantID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client and refuses new ones.
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[domain.ParticipantID]Client)
	h.stopped = true
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Str("client_id", c.ID().String()).Msg("Error closing client")
		}
	}
}
