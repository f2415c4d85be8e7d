package service

import (
	"context"
	"errors"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/core/port"
	"github.com/rs/zerolog/log"
)

// SignalingService is the server side entry point for one inbound frame. It
// sends join and leave to the directory and everything else through the relay.
// Protocol misuse is answered with an error message to the sender.
type SignalingService struct {
	directory *RoomDirectory
	relay     *Relay
	gateway   port.RealTimeGateway
}

func NewSignalingService(directory *RoomDirectory, relay *Relay, gateway port.RealTimeGateway) *SignalingService {
	return &SignalingService{
		directory: directory,
		relay:     relay,
		gateway:   gateway,
	}
}

// Handle processes env sent by from. The returned error is for logging only;
// the sender has already been told when it needs to be.
func (s *SignalingService) Handle(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	switch env.Type {
	case domain.MessageJoin:
		var join domain.JoinPayload
		if err := env.Decode(&join); err != nil {
			s.reply(ctx, from, domain.CodeBadMessage, err)
			return err
		}
		if _, err := s.directory.Join(ctx, from, join.Identity, join.Room); err != nil {
			s.reply(ctx, from, codeFor(err), err)
			return err
		}
		return nil

	case domain.MessageLeave:
		if err := s.directory.Leave(ctx, from); err != nil {
			s.reply(ctx, from, codeFor(err), err)
			return err
		}
		return nil
	}

	err := s.relay.Relay(ctx, from, env)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRoutingFailure):
		// The sender is never told about an unreachable peer.
	default:
		s.reply(ctx, from, domain.CodeBadMessage, err)
	}
	return err
}

// Disconnect forgets a participant whose connection is gone.
func (s *SignalingService) Disconnect(ctx context.Context, id domain.ParticipantID) {
	s.directory.Forget(ctx, id)
}

func (s *SignalingService) reply(ctx context.Context, to domain.ParticipantID, code string, cause error) {
	if err := s.gateway.Deliver(ctx, to, domain.NewErrorEnvelope(code, cause.Error())); err != nil {
		log.Warn().Err(err).Str("to", to.String()).Str("code", code).Msg("Failed to deliver error")
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		return domain.CodeRoomFull
	case errors.Is(err, domain.ErrInvalidJoin):
		return domain.CodeInvalidJoin
	case errors.Is(err, domain.ErrNotInRoom):
		return domain.CodeNotInRoom
	default:
		return domain.CodeBadMessage
	}
}
