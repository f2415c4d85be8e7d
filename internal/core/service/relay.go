package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/core/port"
	"github.com/Wyydra/duo/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Relay forwards negotiation messages between participants by id. It keeps
// no state of its own; ordering per sender and receiver comes from the
// gateway delivering each recipient's messages through one queue.
type Relay struct {
	gateway port.RealTimeGateway
	metrics *metrics.Metrics
}

func NewRelay(gateway port.RealTimeGateway, m *metrics.Metrics) *Relay {
	return &Relay{
		gateway: gateway,
		metrics: m,
	}
}

// Relay delivers env to env.To from from. A recipient that is not connected
// yields an error wrapping domain.ErrRoutingFailure; the sender is never told.
func (r *Relay) Relay(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	delivered, ok := env.Type.Delivered()
	if !ok {
		r.metrics.Inc(metrics.RelayRejected)
		return fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, env.Type)
	}
	if env.To == "" {
		r.metrics.Inc(metrics.RelayRejected)
		return domain.ErrMissingDestination
	}
	if env.To == from {
		r.metrics.Inc(metrics.RelayRejected)
		return domain.ErrSelfAddressed
	}

	out := domain.Envelope{
		Type:    delivered,
		From:    from,
		Payload: env.Payload,
	}
	if err := r.gateway.Deliver(ctx, env.To, out); err != nil {
		if errors.Is(err, domain.ErrRoutingFailure) {
			r.metrics.Inc(metrics.RelayDropped)
		}
		return err
	}

	r.metrics.Inc(metrics.Relayed)
	log.Debug().
		Str("from", from.String()).
		Str("to", env.To.String()).
		Str("type", string(env.Type)).
		Str("delivered_as", string(delivered)).
		Msg("Relayed message")
	return nil
}
