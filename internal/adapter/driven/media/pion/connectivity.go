package pion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultGatherTimeout = 5 * time.Second

var ErrWrongKind = errors.New("pion: wrong description kind")

type Config struct {
	// ICEServers are STUN/TURN urls, e.g. "stun:stun.l.google.com:19302".
	ICEServers []string
	// GatherTimeout bounds how long a description waits for ICE candidates
	// before it is sent with whatever was gathered so far.
	GatherTimeout time.Duration
}

// Factory creates one PeerConnection per call session from a shared API.
type Factory struct {
	api *webrtc.API
	cfg Config

	mu   sync.Mutex
	last *Connectivity
}

func NewFactory(cfg Config) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}

	return &Factory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)),
		cfg: cfg,
	}, nil
}

func (f *Factory) NewConnectivity(ctx context.Context) (port.ConnectivityEngine, error) {
	var servers []webrtc.ICEServer
	if len(f.cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: f.cfg.ICEServers}}
	}
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	// Receive-only transceivers make the first offer carry audio and video
	// sections before any local track exists.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	c := &Connectivity{
		pc:            pc,
		gatherTimeout: f.cfg.GatherTimeout,
		log:           log.With().Str("component", "pion").Logger(),
	}
	c.watch()

	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

// Last returns the most recently created connection, or nil.
func (f *Factory) Last() *Connectivity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Connectivity adapts a pion PeerConnection to port.ConnectivityEngine.
// Descriptions are exchanged with complete ICE candidates, there is no
// trickle.
type Connectivity struct {
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration
	log           zerolog.Logger

	mu       sync.Mutex
	onChange func()
}

func (c *Connectivity) watch() {
	c.pc.OnNegotiationNeeded(func() {
		// The first offer carries everything added before it.
		if c.pc.RemoteDescription() == nil {
			return
		}
		c.mu.Lock()
		fn := c.onChange
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Info().Str("state", state.String()).Msg("Peer connection state changed")
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Msg("Received remote track")
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

func (c *Connectivity) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	sdp, err := c.setLocal(ctx, offer)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.NewOffer(sdp), nil
}

func (c *Connectivity) CreateAnswer(ctx context.Context, remote domain.SessionDescription) (domain.SessionDescription, error) {
	if remote.Kind != domain.KindOffer {
		return domain.SessionDescription{}, fmt.Errorf("%w: %s", ErrWrongKind, remote.Kind)
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remote.Body}); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	sdp, err := c.setLocal(ctx, answer)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.NewAnswer(sdp), nil
}

func (c *Connectivity) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	if desc.Kind != domain.KindAnswer {
		return fmt.Errorf("%w: %s", ErrWrongKind, desc.Kind)
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.Body})
}

func (c *Connectivity) Rollback(ctx context.Context) error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (c *Connectivity) OnLocalMediaChanged(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// AddSampleTrack adds a local track fed with encoded samples. Adding it
// after the call is up triggers a renegotiation.
func (c *Connectivity) AddSampleTrack(mimeType, id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	// RTCP has to be read for the interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					c.log.Debug().Err(err).Msg("RTCP reader stopped")
				}
				return
			}
		}
	}()
	return track, nil
}

func (c *Connectivity) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *Connectivity) Close() error {
	return c.pc.Close()
}

// setLocal applies desc and waits for candidate gathering, bounded by the
// gather timeout and ctx.
func (c *Connectivity) setLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local %s: %w", desc.Type, err)
	}

	timer := time.NewTimer(c.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		c.log.Warn().Dur("timeout", c.gatherTimeout).Msg("ICE gathering incomplete, sending partial candidates")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local %s after gathering", desc.Type)
	}
	return local.SDP, nil
}
