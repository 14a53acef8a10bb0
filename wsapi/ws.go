package wsapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checking belongs to a reverse proxy / API gateway in front of
	// this process, not the WebSocket handshake itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleProgressWS implements the subscriber protocol of spec.md section
// 4.5: authenticate, verify source ownership, send "connected", then push
// a "progress" snapshot (or "heartbeat" when nothing is running) on every
// tick until the client disconnects.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		http.Error(w, "invalid source id", http.StatusBadRequest)
		return
	}

	token, subprotocol := extractToken(r)
	claims, err := s.verifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ownerID, err := s.owners.OwnerUserID(r.Context(), sourceID)
	if err != nil {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	if ownerID != claims.UserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var responseHeader http.Header
	if subprotocol != "" {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": []string{subprotocol}}
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("source_id", sourceID.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	s.runProgressLoop(conn, sourceID)
}

func (s *Server) runProgressLoop(conn *websocket.Conn, sourceID uuid.UUID) {
	if err := s.sendEnvelope(conn, connectedEnvelope(sourceID.String())); err != nil {
		return
	}

	// A late subscriber gets the last-known snapshot once, as a courtesy,
	// before the tick loop below settles into the live-or-heartbeat
	// contract. It is never substituted for a heartbeat on a later tick.
	if _, ok := s.tracker.Get(sourceID); !ok {
		if recent := s.tracker.Recent(sourceID); len(recent) > 0 {
			if err := s.sendEnvelope(conn, progressEnvelope(recent[len(recent)-1])); err != nil {
				return
			}
		}
	}

	interval := s.heartbeat
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Drain client control frames (close, pong) on its own goroutine so a
	// silent subscriber doesn't block the ticker loop below; gorilla's
	// reader must be pumped for close detection to surface.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			var env envelope
			if live, ok := s.tracker.Get(sourceID); ok {
				env = progressEnvelope(live.Snapshot())
			} else {
				env = heartbeatEnvelope(sourceID.String(), time.Now())
			}
			if err := s.sendEnvelope(conn, env); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendEnvelope(conn *websocket.Conn, env envelope) error {
	body, err := marshalEnvelope(env)
	if err != nil {
		errBody, marshalErr := marshalEnvelope(errorEnvelope("internal encoding failure"))
		if marshalErr == nil {
			conn.WriteMessage(websocket.TextMessage, errBody)
		}
		return errors.New("wsapi: envelope marshal failure")
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, body)
}
