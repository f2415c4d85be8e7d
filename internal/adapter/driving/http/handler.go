package http

import (
	"net/http"

	"github.com/Wyydra/duo/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/duo/internal/config"
	"github.com/Wyydra/duo/internal/core/service"
	"github.com/Wyydra/duo/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

type Handler struct {
	Signaling *service.SignalingService
	Hub       *ws.Hub
	Metrics   *metrics.Metrics
	Config    *config.Config

	upgrader websocket.Upgrader
}

func NewHandler(signaling *service.SignalingService, hub *ws.Hub, m *metrics.Metrics, cfg *config.Config) *Handler {
	h := &Handler{
		Signaling: signaling,
		Hub:       hub,
		Metrics:   m,
		Config:    cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return h
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(h.Metrics))

	if h.Config.StaticDir != "" {
		fs := http.FileServer(http.Dir(h.Config.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
