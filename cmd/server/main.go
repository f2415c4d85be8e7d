package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/duo/internal/adapter/driven/gateway/ws"
	handler "github.com/Wyydra/duo/internal/adapter/driving/http"
	"github.com/Wyydra/duo/internal/config"
	"github.com/Wyydra/duo/internal/core/service"
	"github.com/Wyydra/duo/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	log.Logger = l

	cfg, err := config.Load()
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	m := metrics.New()
	hub := ws.NewHub()

	directory := service.NewRoomDirectory(hub, cfg.MaxRoomMembers, m)
	relay := service.NewRelay(hub, m)
	signaling := service.NewSignalingService(directory, relay, hub)
	h := handler.NewHandler(signaling, hub, m, cfg)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().
			Str("addr", cfg.ListenAddr).
			Int("max_room_members", cfg.MaxRoomMembers).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	l.Info().Msg("Server exited")
}
