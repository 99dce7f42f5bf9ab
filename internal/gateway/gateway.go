// Package gateway accepts per-session websocket connections from the voice
// client and feeds their frames into the session inbox. The websocket is
// ingress only; the rendered transcript flows back over the API's SSE stream.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callsight/console/internal/batcher"
	"github.com/callsight/console/internal/events"
)

// Hub is the slice of the session manager the gateway needs.
type Hub interface {
	Deliver(sessionID string, e events.Event) error
	Close(ctx context.Context, sessionID string) error
}

type Gateway struct {
	hub      Hub
	audit    *batcher.Batcher
	upgrader websocket.Upgrader
}

func New(hub Hub, audit *batcher.Batcher) *Gateway {
	return &Gateway{
		hub:   hub,
		audit: audit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// Auth happens upstream; the gateway trusts its reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeSession upgrades the connection and pumps frames into the session
// until the client disconnects. Disconnect tears the session down.
func (g *Gateway) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway: upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	slog.Info("gateway: client connected", "session_id", sessionID)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("gateway: read error", "session_id", sessionID, "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if rec, err := events.Normalize(data, sessionID); err == nil {
			g.audit.Add(rec)
		}

		e, err := events.Decode(data)
		if err != nil {
			// A malformed frame is absorbed; the session keeps going.
			slog.Warn("gateway: undecodable frame, skipping", "session_id", sessionID, "error", err)
			continue
		}

		if err := g.hub.Deliver(sessionID, e); err != nil {
			slog.Warn("gateway: failed to deliver event", "session_id", sessionID, "error", err)
		}
	}

	slog.Info("gateway: client disconnected", "session_id", sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.hub.Close(ctx, sessionID); err != nil {
		slog.Warn("gateway: session teardown failed", "session_id", sessionID, "error", err)
	}
}
