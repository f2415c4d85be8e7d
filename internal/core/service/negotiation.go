package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Scheduler runs fn later, on whatever goroutine serializes the caller's events.
type Scheduler func(fn func())

type EngineOption func(*NegotiationEngine)

// WithOfferTimeout bounds how long an offer may stay unanswered. Zero disables it.
func WithOfferTimeout(d time.Duration) EngineOption {
	return func(e *NegotiationEngine) {
		e.offerTimeout = d
	}
}

// WithScheduler routes media change callbacks and offer timeouts through s.
func WithScheduler(s Scheduler) EngineOption {
	return func(e *NegotiationEngine) {
		e.schedule = s
	}
}

// WithStateObserver is called with a snapshot after every change of the session.
// It runs without the engine lock held.
func WithStateObserver(fn func(domain.CallSession)) EngineOption {
	return func(e *NegotiationEngine) {
		e.observe = fn
	}
}

// NegotiationEngine drives one side of a call session through
// Idle -> OfferSent -> Stable (-> OfferSent -> Stable ...) until Closed.
// Every operation runs under one lock, so events are applied one at a time.
type NegotiationEngine struct {
	mu       sync.Mutex
	session  domain.CallSession
	conn     port.ConnectivityEngine
	signaler port.Signaler

	offerTimeout time.Duration
	offerTimer   *time.Timer
	offerSeq     uint64

	schedule Scheduler
	observe  func(domain.CallSession)
	log      zerolog.Logger
}

func NewNegotiationEngine(local domain.ParticipantID, conn port.ConnectivityEngine, signaler port.Signaler, opts ...EngineOption) *NegotiationEngine {
	e := &NegotiationEngine{
		session:  domain.CallSession{Local: local, State: domain.StateIdle},
		conn:     conn,
		signaler: signaler,
		schedule: func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = log.With().Str("participant_id", local.String()).Logger()

	conn.OnLocalMediaChanged(func() {
		e.schedule(func() {
			if err := e.OnLocalMediaChanged(context.Background()); err != nil {
				e.log.Error().Err(err).Msg("Renegotiation after media change failed")
			}
		})
	})
	return e
}

// Session returns a snapshot of the current session.
func (e *NegotiationEngine) Session() domain.CallSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *NegotiationEngine) State() domain.NegotiationState {
	return e.Session().State
}

// StartCall offers a call to remote. Only legal from Idle.
func (e *NegotiationEngine) StartCall(ctx context.Context, remote domain.ParticipantID) error {
	return e.update(func() error {
		switch e.session.State {
		case domain.StateIdle:
		case domain.StateClosed:
			return domain.ErrSessionClosed
		default:
			return fmt.Errorf("%w: start call in state %s", domain.ErrInvalidStateTransition, e.session.State)
		}
		if remote == "" {
			return domain.ErrMissingDestination
		}
		if remote == e.session.Local {
			return domain.ErrSelfAddressed
		}

		offer, err := e.conn.CreateOffer(ctx)
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		e.session.Remote = remote
		e.enterOfferSentLocked(false)
		e.log.Info().Str("remote", remote.String()).Msg("Calling peer")
		return e.sendLocked(ctx, domain.MessageCallOffer, domain.OfferPayload{Offer: offer})
	})
}

// HandleIncomingCall answers the first offer of a call. Only legal from Idle,
// except when both sides called each other at once: then the polite side
// drops its own offer and answers, the impolite side ignores the offer.
func (e *NegotiationEngine) HandleIncomingCall(ctx context.Context, from domain.ParticipantID, offer domain.SessionDescription) error {
	return e.update(func() error {
		switch e.session.State {
		case domain.StateIdle:
		case domain.StateClosed:
			return domain.ErrSessionClosed
		case domain.StateOfferSent:
			if e.session.Renegotiating || from != e.session.Remote {
				return fmt.Errorf("%w: incoming call in state %s", domain.ErrInvalidStateTransition, e.session.State)
			}
			if !e.session.Polite() {
				e.log.Info().Str("remote", from.String()).Msg("Call glare, impolite side keeps its offer")
				return domain.ErrGlareIgnored
			}
			e.log.Info().Str("remote", from.String()).Msg("Call glare, polite side yields")
			if err := e.rollbackLocked(ctx); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: incoming call in state %s", domain.ErrInvalidStateTransition, e.session.State)
		}

		answer, err := e.conn.CreateAnswer(ctx, offer)
		if err != nil {
			e.session.Remote = ""
			return fmt.Errorf("create answer: %w", err)
		}
		e.session.Remote = from
		e.settleLocked()
		e.log.Info().Str("remote", from.String()).Msg("Answered incoming call")
		if err := e.sendLocked(ctx, domain.MessageCallAnswer, domain.AnswerPayload{Answer: answer}); err != nil {
			return err
		}
		return e.flushPendingLocked(ctx)
	})
}

// HandleCallAccepted applies the answer to our call offer.
func (e *NegotiationEngine) HandleCallAccepted(ctx context.Context, from domain.ParticipantID, answer domain.SessionDescription) error {
	return e.update(func() error {
		if e.session.State != domain.StateOfferSent || e.session.Renegotiating {
			return fmt.Errorf("%w: call answer in state %s", domain.ErrUnexpectedAnswer, e.session.State)
		}
		if from != e.session.Remote {
			return fmt.Errorf("%w: call answer from %s, bound to %s", domain.ErrStaleMessage, from, e.session.Remote)
		}
		if err := e.conn.SetRemoteDescription(ctx, answer); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		e.settleLocked()
		e.log.Info().Str("remote", from.String()).Msg("Call accepted")
		return e.flushPendingLocked(ctx)
	})
}

// OnLocalMediaChanged starts a renegotiation from Stable. In any other live
// state the change is remembered and negotiated once the session is Stable
// again; repeated changes collapse into one offer.
func (e *NegotiationEngine) OnLocalMediaChanged(ctx context.Context) error {
	return e.update(func() error {
		switch e.session.State {
		case domain.StateClosed:
			return nil
		case domain.StateStable:
			return e.renegotiateLocked(ctx)
		default:
			if !e.session.PendingRenegotiation {
				e.log.Debug().Str("state", e.session.State.String()).Msg("Deferring renegotiation")
			}
			e.session.PendingRenegotiation = true
			return nil
		}
	})
}

// HandleRenegotiationOffer answers a renegotiation started by the remote side.
// If our own renegotiation offer is outstanding the ids decide: the polite
// side rolls its offer back, answers, and offers again afterwards; the
// impolite side ignores the incoming offer.
func (e *NegotiationEngine) HandleRenegotiationOffer(ctx context.Context, from domain.ParticipantID, offer domain.SessionDescription) error {
	return e.update(func() error {
		switch e.session.State {
		case domain.StateClosed:
			return domain.ErrSessionClosed
		case domain.StateIdle:
			return fmt.Errorf("%w: renegotiation offer in state %s", domain.ErrInvalidStateTransition, e.session.State)
		}
		if from != e.session.Remote {
			return fmt.Errorf("%w: renegotiation offer from %s, bound to %s", domain.ErrStaleMessage, from, e.session.Remote)
		}

		if e.session.State == domain.StateOfferSent {
			if !e.session.Renegotiating {
				return fmt.Errorf("%w: renegotiation offer before call answer", domain.ErrInvalidStateTransition)
			}
			if !e.session.Polite() {
				e.log.Info().Str("remote", from.String()).Msg("Renegotiation glare, impolite side keeps its offer")
				return domain.ErrGlareIgnored
			}
			e.log.Info().Str("remote", from.String()).Msg("Renegotiation glare, polite side yields")
			if err := e.rollbackLocked(ctx); err != nil {
				return err
			}
			e.session.PendingRenegotiation = true
		}

		answer, err := e.conn.CreateAnswer(ctx, offer)
		if err != nil {
			return fmt.Errorf("create renegotiation answer: %w", err)
		}
		if err := e.sendLocked(ctx, domain.MessageRenegotiationAnswer, domain.AnswerPayload{Answer: answer}); err != nil {
			return err
		}
		return e.flushPendingLocked(ctx)
	})
}

// HandleRenegotiationComplete applies the answer to our renegotiation offer.
func (e *NegotiationEngine) HandleRenegotiationComplete(ctx context.Context, from domain.ParticipantID, answer domain.SessionDescription) error {
	return e.update(func() error {
		if e.session.State != domain.StateOfferSent || !e.session.Renegotiating {
			return fmt.Errorf("%w: renegotiation answer in state %s", domain.ErrUnexpectedAnswer, e.session.State)
		}
		if from != e.session.Remote {
			return fmt.Errorf("%w: renegotiation answer from %s, bound to %s", domain.ErrStaleMessage, from, e.session.Remote)
		}
		if err := e.conn.SetRemoteDescription(ctx, answer); err != nil {
			return fmt.Errorf("apply renegotiation answer: %w", err)
		}
		e.settleLocked()
		e.log.Debug().Str("remote", from.String()).Msg("Renegotiation complete")
		return e.flushPendingLocked(ctx)
	})
}

// HandlePeerLeft closes the session if id is the bound remote. It reports
// whether the session was closed by this call.
func (e *NegotiationEngine) HandlePeerLeft(id domain.ParticipantID) bool {
	closed := false
	_ = e.update(func() error {
		if e.session.State == domain.StateClosed || e.session.Remote == "" || e.session.Remote != id {
			return nil
		}
		e.log.Info().Str("remote", id.String()).Msg("Peer left, closing session")
		e.closeLocked()
		closed = true
		return nil
	})
	return closed
}

// HandleCallEnded closes the session after the remote side hung up.
func (e *NegotiationEngine) HandleCallEnded(from domain.ParticipantID) error {
	return e.update(func() error {
		if e.session.State == domain.StateClosed {
			return domain.ErrSessionClosed
		}
		if from != e.session.Remote {
			return fmt.Errorf("%w: call end from %s, bound to %s", domain.ErrStaleMessage, from, e.session.Remote)
		}
		e.log.Info().Str("remote", from.String()).Msg("Remote ended the call")
		e.closeLocked()
		return nil
	})
}

// End hangs up: the remote is told with call-end and the session closes.
func (e *NegotiationEngine) End(ctx context.Context) error {
	return e.update(func() error {
		if e.session.State == domain.StateClosed {
			return nil
		}
		var err error
		if e.session.Remote != "" {
			err = e.sendLocked(ctx, domain.MessageCallEnd, nil)
		}
		e.closeLocked()
		return err
	})
}

func (e *NegotiationEngine) update(fn func() error) error {
	e.mu.Lock()
	before := e.session
	err := fn()
	after := e.session
	e.mu.Unlock()

	if e.observe != nil && before != after {
		e.observe(after)
	}
	return err
}

func (e *NegotiationEngine) renegotiateLocked(ctx context.Context) error {
	offer, err := e.conn.CreateOffer(ctx)
	if err != nil {
		e.session.PendingRenegotiation = true
		return fmt.Errorf("create renegotiation offer: %w", err)
	}
	e.session.PendingRenegotiation = false
	e.enterOfferSentLocked(true)
	e.log.Debug().Str("remote", e.session.Remote.String()).Msg("Renegotiating")
	return e.sendLocked(ctx, domain.MessageRenegotiationOffer, domain.OfferPayload{Offer: offer})
}

func (e *NegotiationEngine) flushPendingLocked(ctx context.Context) error {
	if e.session.State != domain.StateStable || !e.session.PendingRenegotiation {
		return nil
	}
	return e.renegotiateLocked(ctx)
}

func (e *NegotiationEngine) enterOfferSentLocked(renegotiating bool) {
	e.session.State = domain.StateOfferSent
	e.session.Renegotiating = renegotiating
	e.armOfferTimerLocked()
}

func (e *NegotiationEngine) settleLocked() {
	e.stopOfferTimerLocked()
	e.session.State = domain.StateStable
	e.session.Renegotiating = false
}

// rollbackLocked discards our outstanding offer. A first call offer goes back
// to Idle, a renegotiation offer back to Stable.
func (e *NegotiationEngine) rollbackLocked(ctx context.Context) error {
	e.stopOfferTimerLocked()
	if err := e.conn.Rollback(ctx); err != nil {
		return fmt.Errorf("rollback local offer: %w", err)
	}
	if e.session.Renegotiating {
		e.session.State = domain.StateStable
	} else {
		e.session.State = domain.StateIdle
	}
	e.session.Renegotiating = false
	return nil
}

func (e *NegotiationEngine) closeLocked() {
	e.stopOfferTimerLocked()
	e.session.State = domain.StateClosed
	e.session.Renegotiating = false
	e.session.PendingRenegotiation = false
	if err := e.conn.Close(); err != nil {
		e.log.Warn().Err(err).Msg("Failed to close connectivity engine")
	}
}

func (e *NegotiationEngine) sendLocked(ctx context.Context, t domain.MessageType, payload any) error {
	env, err := domain.NewEnvelope(t, e.session.Remote, payload)
	if err != nil {
		return err
	}
	if err := e.signaler.Send(ctx, env); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}

func (e *NegotiationEngine) armOfferTimerLocked() {
	e.stopOfferTimerLocked()
	e.offerSeq++
	if e.offerTimeout <= 0 {
		return
	}
	seq := e.offerSeq
	e.offerTimer = time.AfterFunc(e.offerTimeout, func() {
		e.schedule(func() { e.expireOffer(seq) })
	})
}

func (e *NegotiationEngine) stopOfferTimerLocked() {
	if e.offerTimer != nil {
		e.offerTimer.Stop()
		e.offerTimer = nil
	}
}

func (e *NegotiationEngine) expireOffer(seq uint64) {
	_ = e.update(func() error {
		if e.session.State != domain.StateOfferSent || seq != e.offerSeq {
			return nil
		}
		e.log.Warn().
			Str("remote", e.session.Remote.String()).
			Bool("renegotiation", e.session.Renegotiating).
			Dur("timeout", e.offerTimeout).
			Msg("Offer not answered in time, rolling back")

		if err := e.conn.Rollback(context.Background()); err != nil {
			e.log.Error().Err(err).Msg("Failed to roll back expired offer")
		}
		e.offerTimer = nil
		if e.session.Renegotiating {
			e.session.State = domain.StateStable
		} else {
			e.session.State = domain.StateIdle
			e.session.Remote = ""
		}
		e.session.Renegotiating = false
		return nil
	})
}
