package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wisbric/scriptrt/pkg/master"
)

// WSServer fronts a Master over a persistent WebSocket connection: one
// connection carries many requests, each tagged with Request.ID so the
// caller can match replies out of order.
type WSServer struct {
	master   *master.Master
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSServer creates a WebSocket RPC front end for m.
func NewWSServer(m *master.Master, logger *slog.Logger) *WSServer {
	return &WSServer{
		master: m,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The caller is a collaborator's own worker process, not a
			// browser; origin checking belongs to whatever reverse proxy
			// terminates TLS in front of this port.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and serves RPC requests until the peer
// disconnects or sends a close frame.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("transport: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("transport: websocket read error", "error", err)
			}
			return
		}

		req, err := decodeRequest(data)
		if err != nil {
			s.logger.Warn("transport: malformed websocket request", "error", err)
			continue
		}

		resp := s.handleOne(ctx, req)
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Warn("transport: websocket write error", "error", err)
			return
		}
	}
}

// handleOne bounds a single RPC call so a stalled worker can't hold a
// connection open forever.
func (s *WSServer) handleOne(ctx context.Context, req Request) Response {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return handle(ctx, s.master, req)
}
