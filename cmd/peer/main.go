package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/duo/internal/adapter/driven/call/memory"
	"github.com/Wyydra/duo/internal/adapter/driven/media/pion"
	sig "github.com/Wyydra/duo/internal/adapter/driven/signal"
	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/core/port"
	"github.com/Wyydra/duo/internal/core/service"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	server       string
	room         string
	identity     string
	autoCall     bool
	offerTimeout time.Duration
	stun         []string
	gather       time.Duration
	addVideo     time.Duration
	dryRun       bool
	logLevel     string
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "duo-peer",
	Short: "Headless two-party call peer",
	Long:  `duo-peer joins a room on a duo signaling server and negotiates a call with the other member. It drives a real pion peer connection, or a deterministic in-memory one with --dry-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), opts)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.server, "server", "s", "ws://localhost:8080/ws", "signaling server websocket URL")
	f.StringVarP(&opts.room, "room", "r", "", "room to join")
	f.StringVarP(&opts.identity, "identity", "i", "", "name shown to the other peer")
	f.BoolVar(&opts.autoCall, "call", false, "call the other peer as soon as it joins")
	f.DurationVar(&opts.offerTimeout, "offer-timeout", 15*time.Second, "roll back an unanswered offer after this long (0 disables)")
	f.StringSliceVar(&opts.stun, "stun", []string{"stun:stun.l.google.com:19302"}, "ICE server URLs")
	f.DurationVar(&opts.gather, "gather-timeout", pion.DefaultGatherTimeout, "maximum wait for ICE gathering")
	f.DurationVar(&opts.addVideo, "add-video-after", 0, "add a video track this long after the call is up (0 disables)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "use the in-memory connectivity engine instead of pion")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	rootCmd.MarkFlagRequired("room")
	rootCmd.MarkFlagRequired("identity")

	rootCmd.SilenceUsage = true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(w).With().Timestamp().Str("identity", o.identity).Logger()
	zerolog.SetGlobalLevel(level)

	var (
		factory  port.ConnectivityFactory
		addVideo func() error
	)
	if o.dryRun {
		f := memory.NewFactory(o.identity)
		factory = f
		addVideo = func() error {
			if c := f.Last(); c != nil {
				c.AddTrack("video")
			}
			return nil
		}
	} else {
		f, err := pion.NewFactory(pion.Config{ICEServers: o.stun, GatherTimeout: o.gather})
		if err != nil {
			return err
		}
		factory = f
		addVideo = func() error {
			c := f.Last()
			if c == nil {
				return domain.ErrNoSession
			}
			_, err := c.AddSampleTrack(webrtc.MimeTypeVP8, "video", "duo-"+o.identity)
			return err
		}
	}

	client, err := sig.Dial(ctx, o.server)
	if err != nil {
		return err
	}
	defer client.Close()

	svc := service.NewCallService(client, factory,
		service.WithAutoCall(o.autoCall),
		service.WithEngineOptions(service.WithOfferTimeout(o.offerTimeout)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		svc.Run(runCtx)
		close(stopped)
	}()

	go func() {
		for env := range client.Incoming() {
			svc.Dispatch(env)
		}
		log.Warn().Msg("Signaling connection closed")
		cancel()
	}()

	svc.Join(o.identity, domain.RoomName(o.room))

	var (
		videoTimer <-chan time.Time
		failure    error
	)
	for ev := range svc.Events() {
		l := log.With().Str("event", string(ev.Kind)).Logger()
		switch ev.Kind {
		case domain.EventJoined:
			l.Info().Str("room", ev.Room.String()).Str("participant_id", ev.Peer.ID.String()).Msg("Joined")
		case domain.EventPeerJoined, domain.EventPeerLeft:
			l.Info().Str("peer", ev.Peer.Identity).Str("peer_id", ev.Peer.ID.String()).Msg("Room changed")
		case domain.EventStateChanged:
			l.Info().
				Str("state", ev.Session.State.String()).
				Bool("renegotiating", ev.Session.Renegotiating).
				Bool("pending", ev.Session.PendingRenegotiation).
				Msg("Negotiation state")
			if ev.Session.State == domain.StateStable && o.addVideo > 0 && videoTimer == nil {
				videoTimer = time.After(o.addVideo)
				go func(timer <-chan time.Time) {
					select {
					case <-timer:
						if err := addVideo(); err != nil {
							log.Error().Err(err).Msg("Failed to add video track")
						}
					case <-runCtx.Done():
					}
				}(videoTimer)
			}
		case domain.EventCallEnded:
			l.Info().Str("peer", ev.Peer.Identity).Msg("Call ended")
		case domain.EventError:
			l.Error().Err(ev.Err).Msg("Error")
			if errors.Is(ev.Err, domain.ErrRoomFull) {
				failure = ev.Err
				cancel()
			}
		}
	}

	<-stopped
	return failure
}
