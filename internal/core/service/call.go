package service

import (
	"context"
	"errors"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize  = 256
	defaultEventsSize = 128
)

type CallOption func(*CallService)

// WithAutoCall makes the service call a peer as soon as it joins the room.
func WithAutoCall(enabled bool) CallOption {
	return func(s *CallService) {
		s.autoCall = enabled
	}
}

// WithEngineOptions passes options to every negotiation engine the service creates.
func WithEngineOptions(opts ...EngineOption) CallOption {
	return func(s *CallService) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// CallService is the client side glue between the signaling connection, the
// user and the negotiation engine. Every input goes through one queue that
// Run drains, so the engine never sees two events at once.
type CallService struct {
	signaler port.Signaler
	factory  port.ConnectivityFactory

	queue  chan func(context.Context)
	events chan domain.CallEvent
	done   chan struct{}

	autoCall   bool
	engineOpts []EngineOption

	// Owned by the Run goroutine.
	self   domain.Participant
	peers  map[domain.ParticipantID]domain.Participant
	engine *NegotiationEngine
}

func NewCallService(signaler port.Signaler, factory port.ConnectivityFactory, opts ...CallOption) *CallService {
	s := &CallService{
		signaler: signaler,
		factory:  factory,
		queue:    make(chan func(context.Context), defaultQueueSize),
		events:   make(chan domain.CallEvent, defaultEventsSize),
		done:     make(chan struct{}),
		peers:    make(map[domain.ParticipantID]domain.Participant),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes queued events until ctx is done. A live call is hung up on exit.
func (s *CallService) Run(ctx context.Context) {
	defer func() {
		if s.engine != nil {
			if err := s.engine.End(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to hang up on shutdown")
			}
		}
		close(s.done)
		close(s.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.queue:
			fn(ctx)
		}
	}
}

// Events streams lifecycle events. It is closed when Run returns.
func (s *CallService) Events() <-chan domain.CallEvent {
	return s.events
}

func (s *CallService) enqueue(fn func(context.Context)) {
	select {
	case s.queue <- fn:
	case <-s.done:
	}
}

func (s *CallService) schedule(fn func()) {
	s.enqueue(func(context.Context) { fn() })
}

func (s *CallService) Join(identity string, room domain.RoomName) {
	s.enqueue(func(ctx context.Context) {
		s.self.Identity = identity
		env := domain.MustEnvelope(domain.MessageJoin, "", domain.JoinPayload{Identity: identity, Room: room})
		if err := s.signaler.Send(ctx, env); err != nil {
			s.fail(err, "Failed to send join")
		}
	})
}

func (s *CallService) Leave() {
	s.enqueue(func(ctx context.Context) {
		s.hangup(ctx)
		if err := s.signaler.Send(ctx, domain.Envelope{Type: domain.MessageLeave}); err != nil {
			s.fail(err, "Failed to send leave")
		}
		s.self.Room = ""
		s.peers = make(map[domain.ParticipantID]domain.Participant)
	})
}

// Call starts a call to remote.
func (s *CallService) Call(remote domain.ParticipantID) {
	s.enqueue(func(ctx context.Context) {
		if err := s.startCall(ctx, remote); err != nil {
			s.fail(err, "Failed to start call")
		}
	})
}

func (s *CallService) Hangup() {
	s.enqueue(s.hangup)
}

// LocalMediaChanged reports a local track change made outside the
// connectivity engine's own notifications.
func (s *CallService) LocalMediaChanged() {
	s.enqueue(func(ctx context.Context) {
		if s.engine == nil {
			return
		}
		if err := s.engine.OnLocalMediaChanged(ctx); err != nil {
			s.fail(err, "Failed to renegotiate")
		}
	})
}

// Dispatch queues a message received from the signaling server.
func (s *CallService) Dispatch(env domain.Envelope) {
	s.enqueue(func(ctx context.Context) {
		s.handle(ctx, env)
	})
}

// Session returns the current call session, if there is one. It waits for
// the queue to reach the request.
func (s *CallService) Session() (domain.CallSession, bool) {
	type result struct {
		session domain.CallSession
		ok      bool
	}
	reply := make(chan result, 1)
	s.enqueue(func(context.Context) {
		if s.engine == nil {
			reply <- result{}
			return
		}
		reply <- result{session: s.engine.Session(), ok: true}
	})
	select {
	case r := <-reply:
		return r.session, r.ok
	case <-s.done:
		return domain.CallSession{}, false
	}
}

// Self returns the local participant as acknowledged by the server.
func (s *CallService) Self() domain.Participant {
	reply := make(chan domain.Participant, 1)
	s.enqueue(func(context.Context) { reply <- s.self })
	select {
	case p := <-reply:
		return p
	case <-s.done:
		return domain.Participant{}
	}
}

func (s *CallService) handle(ctx context.Context, env domain.Envelope) {
	l := log.With().Str("type", string(env.Type)).Str("from", env.From.String()).Logger()

	switch env.Type {
	case domain.MessageJoinAck:
		var ack domain.JoinAckPayload
		if err := env.Decode(&ack); err != nil {
			l.Error().Err(err).Msg("Invalid join ack")
			return
		}
		s.self = domain.Participant{ID: ack.ParticipantID, Identity: ack.Identity, Room: ack.Room}
		s.peers = make(map[domain.ParticipantID]domain.Participant, len(ack.Members))
		for _, m := range ack.Members {
			s.peers[m.ParticipantID] = domain.Participant{ID: m.ParticipantID, Identity: m.Identity, Room: ack.Room}
		}
		l.Info().Str("participant_id", ack.ParticipantID.String()).Str("room", ack.Room.String()).Int("members", len(ack.Members)).Msg("Joined room")
		s.emit(domain.CallEvent{Kind: domain.EventJoined, Peer: s.self, Room: ack.Room})

	case domain.MessagePeerJoined:
		var info domain.PeerInfo
		if err := env.Decode(&info); err != nil {
			l.Error().Err(err).Msg("Invalid peer joined")
			return
		}
		peer := domain.Participant{ID: info.ParticipantID, Identity: info.Identity, Room: s.self.Room}
		s.peers[peer.ID] = peer
		l.Info().Str("peer", peer.ID.String()).Str("identity", peer.Identity).Msg("Peer joined")
		s.emit(domain.CallEvent{Kind: domain.EventPeerJoined, Peer: peer, Room: s.self.Room})

		if s.autoCall && !s.inCall() {
			if err := s.startCall(ctx, peer.ID); err != nil {
				s.fail(err, "Failed to auto call")
			}
		}

	case domain.MessagePeerLeft:
		var left domain.PeerLeftPayload
		if err := env.Decode(&left); err != nil {
			l.Error().Err(err).Msg("Invalid peer left")
			return
		}
		peer, ok := s.peers[left.ParticipantID]
		if !ok {
			peer = domain.Participant{ID: left.ParticipantID, Identity: left.Identity}
		}
		delete(s.peers, left.ParticipantID)
		if s.engine != nil && s.engine.HandlePeerLeft(left.ParticipantID) {
			s.emit(domain.CallEvent{Kind: domain.EventCallEnded, Peer: peer, Session: s.engine.Session()})
		}
		l.Info().Str("peer", left.ParticipantID.String()).Msg("Peer left")
		s.emit(domain.CallEvent{Kind: domain.EventPeerLeft, Peer: peer, Room: s.self.Room})

	case domain.MessageIncomingCall:
		offer, err := env.Offer()
		if err != nil {
			l.Error().Err(err).Msg("Invalid incoming call")
			return
		}
		if !s.inCall() {
			if err := s.newEngine(ctx); err != nil {
				s.fail(err, "Failed to create call session")
				return
			}
		}
		s.drop(l, s.engine.HandleIncomingCall(ctx, env.From, offer))

	case domain.MessageCallAnswer:
		answer, err := env.Answer()
		if err != nil {
			l.Error().Err(err).Msg("Invalid call answer")
			return
		}
		if s.engine == nil {
			s.drop(l, domain.ErrNoSession)
			return
		}
		s.drop(l, s.engine.HandleCallAccepted(ctx, env.From, answer))

	case domain.MessageRenegotiationOffer:
		offer, err := env.Offer()
		if err != nil {
			l.Error().Err(err).Msg("Invalid renegotiation offer")
			return
		}
		if s.engine == nil {
			s.drop(l, domain.ErrNoSession)
			return
		}
		s.drop(l, s.engine.HandleRenegotiationOffer(ctx, env.From, offer))

	case domain.MessageRenegotiationDone:
		answer, err := env.Answer()
		if err != nil {
			l.Error().Err(err).Msg("Invalid renegotiation answer")
			return
		}
		if s.engine == nil {
			s.drop(l, domain.ErrNoSession)
			return
		}
		s.drop(l, s.engine.HandleRenegotiationComplete(ctx, env.From, answer))

	case domain.MessageCallEnd:
		if s.engine == nil {
			s.drop(l, domain.ErrNoSession)
			return
		}
		if err := s.engine.HandleCallEnded(env.From); err != nil {
			s.drop(l, err)
			return
		}
		s.emit(domain.CallEvent{Kind: domain.EventCallEnded, Peer: s.peers[env.From], Session: s.engine.Session()})

	case domain.MessageError:
		var p domain.ErrorPayload
		if err := env.Decode(&p); err != nil {
			l.Error().Err(err).Msg("Invalid error message")
			return
		}
		l.Warn().Str("code", p.Code).Str("message", p.Message).Msg("Server reported an error")
		s.emit(domain.CallEvent{Kind: domain.EventError, Room: s.self.Room, Err: p.Err()})

	default:
		l.Warn().Msg("Unhandled message type")
	}
}

func (s *CallService) inCall() bool {
	return s.engine != nil && s.engine.State() != domain.StateClosed
}

func (s *CallService) startCall(ctx context.Context, remote domain.ParticipantID) error {
	if s.self.ID == "" {
		return domain.ErrNotJoined
	}
	if !s.inCall() {
		if err := s.newEngine(ctx); err != nil {
			return err
		}
	}
	return s.engine.StartCall(ctx, remote)
}

func (s *CallService) hangup(ctx context.Context) {
	if !s.inCall() {
		return
	}
	remote := s.engine.Session().Remote
	if err := s.engine.End(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to tell peer about hang up")
	}
	s.emit(domain.CallEvent{Kind: domain.EventCallEnded, Peer: s.peers[remote], Session: s.engine.Session()})
}

func (s *CallService) newEngine(ctx context.Context) error {
	if s.self.ID == "" {
		return domain.ErrNotJoined
	}
	conn, err := s.factory.NewConnectivity(ctx)
	if err != nil {
		return err
	}
	opts := append([]EngineOption{
		WithScheduler(s.schedule),
		WithStateObserver(s.sessionChanged),
	}, s.engineOpts...)
	s.engine = NewNegotiationEngine(s.self.ID, conn, s.signaler, opts...)
	return nil
}

func (s *CallService) sessionChanged(session domain.CallSession) {
	s.emit(domain.CallEvent{Kind: domain.EventStateChanged, Peer: s.peers[session.Remote], Room: s.self.Room, Session: session})
}

func (s *CallService) emit(ev domain.CallEvent) {
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("Event buffer full, dropping event")
	}
}

func (s *CallService) fail(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	s.emit(domain.CallEvent{Kind: domain.EventError, Room: s.self.Room, Err: err})
}

// drop logs a message the engine refused. None of these failures end the call.
func (s *CallService) drop(l zerolog.Logger, err error) {
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrGlareIgnored):
		l.Debug().Err(err).Msg("Ignored offer during glare")
	case errors.Is(err, domain.ErrStateViolation), errors.Is(err, domain.ErrStaleMessage), errors.Is(err, domain.ErrNoSession):
		l.Warn().Err(err).Msg("Dropped negotiation message")
	default:
		l.Error().Err(err).Msg("Negotiation failed")
	}
}
