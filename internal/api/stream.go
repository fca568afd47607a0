package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/focus-engine/internal/models"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is a frame sent on the profile stream
type StreamMessage struct {
	Type    string                  `json:"type"`
	Profile *models.ProfileSnapshot `json:"profile,omitempty"`
	Data    string                  `json:"data,omitempty"`
}

func (s *Server) handleProfileStream(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	if id == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Subscribe before reading the current profile so no update is missed in between
	updates, unsubscribe := s.hub.Subscribe(id.UserID)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("profile stream connected", "user", id.MaskedUserID())

	var writeMu sync.Mutex
	send := func(msg StreamMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return s.sendStreamMessage(conn, msg)
	}

	if p, err := s.awards.Profile(r.Context(), id.UserID); err == nil {
		snap := p.Snapshot()
		if err := send(StreamMessage{Type: "profile", Profile: &snap}); err != nil {
			return
		}
	} else {
		slog.Warn("failed to load profile for stream", "error", err, "user", id.MaskedUserID())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Client reads only serve pong handling and close detection
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	// Hub updates and keepalive pings -> WebSocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-updates:
				if !ok {
					return
				}
				snap := p.Snapshot()
				if err := send(StreamMessage{Type: "profile", Profile: &snap}); err != nil {
					return
				}
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	<-ctx.Done()
	conn.Close()
	wg.Wait()
	slog.Info("profile stream disconnected", "user", id.MaskedUserID())
}

func (s *Server) sendStreamMessage(conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal stream message", "error", err)
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send stream message", "error", err)
		return err
	}
	return nil
}
