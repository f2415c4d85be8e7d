package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/duo/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// WSClient is one signaling connection. All writes go through writePump;
// Send only queues.
type WSClient struct {
	id        domain.ParticipantID
	conn      *websocket.Conn
	send      chan domain.Envelope
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
	log       zerolog.Logger
}

func newWSClient(id domain.ParticipantID, conn *websocket.Conn, sendBuffer, perSecond int) *WSClient {
	return &WSClient{
		id:      id,
		conn:    conn,
		send:    make(chan domain.Envelope, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		log:     log.With().Str("client_id", id.String()).Logger(),
	}
}

func (c *WSClient) ID() domain.ParticipantID {
	return c.id
}

func (c *WSClient) Send(env domain.Envelope) error {
	select {
	case <-c.done:
		return ws.ErrClientClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		c.log.Warn().Str("type", string(env.Type)).Msg("Send buffer full, dropping message")
		return domain.ErrRecipientBufferFull
	}
}

// Close stops the write pump, which closes the connection.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// ServeWS upgrades the request and serves one participant until it disconnects.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(domain.NewParticipantID(), conn, h.Config.SendBuffer, h.Config.MessagesPerSecond)
	client.log.Info().Str("remote_addr", r.RemoteAddr).Msg("New client connected")
	h.Metrics.Inc(metrics.Connections)

	h.Hub.Register(client)
	go client.writePump()

	defer func() {
		client.log.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		h.Signaling.Disconnect(context.Background(), client.id)
		conn.Close()
	}()

	h.readPump(r.Context(), client)
}

// readPump runs on the handler goroutine, so there is exactly one reader per
// connection.
func (h *Handler) readPump(ctx context.Context, c *WSClient) {
	c.conn.SetReadLimit(h.Config.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		if !c.limiter.Allow() {
			h.Metrics.Inc(metrics.RateLimited)
			c.log.Warn().Msg("Message rate exceeded, closing connection")
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "message rate exceeded")
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			h.Metrics.Inc(metrics.MalformedMessages)
			c.log.Warn().Err(err).Msg("Malformed message")
			c.Send(domain.NewErrorEnvelope(domain.CodeBadMessage, "malformed message"))
			continue
		}

		err = h.Signaling.Handle(ctx, c.id, env)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrRoutingFailure):
			c.log.Debug().Err(err).Str("type", string(env.Type)).Str("to", env.To.String()).Msg("Recipient unreachable, message dropped")
		default:
			c.log.Warn().Err(err).Str("type", string(env.Type)).Msg("Rejected message")
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Error().Err(err).Msg("Error writing message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
