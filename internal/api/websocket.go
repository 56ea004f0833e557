// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tonbox/tonbox/internal/events"
	"github.com/tonbox/tonbox/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS middleware in front of the
	// upgrade; same-device browser clients are the norm here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientMessage is what subscribers send us: room management only. Commands
// go through the HTTP interface.
type clientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// websocket upgrades the connection and bridges it to the broadcast hub.
// Initial rooms come from the ?rooms= query parameter (comma-separated,
// default "player"); further rooms are managed with subscribe/unsubscribe
// messages.
func (h *handlers) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	log := logging.With().Str("component", "api").Str("client_id", clientID).Logger()

	rooms := []string{events.RoomPlayer}
	if raw := r.URL.Query().Get("rooms"); raw != "" {
		rooms = rooms[:0]
		for _, room := range strings.Split(raw, ",") {
			if room = strings.TrimSpace(room); room != "" {
				rooms = append(rooms, room)
			}
		}
	}

	var send <-chan events.Envelope
	for _, room := range rooms {
		send = h.svc.hub.Subscribe(r.Context(), clientID, room)
	}
	if send == nil {
		_ = conn.Close()
		return
	}

	go h.writePump(conn, send, log)
	go h.readPump(conn, clientID, log)
}

// readPump consumes room management messages until the connection drops,
// then disconnects the client from the hub (which ends the write pump).
func (h *handlers) readPump(conn *websocket.Conn, clientID string, log zerolog.Logger) {
	defer func() {
		h.svc.hub.Disconnect(clientID)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Room == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			h.svc.hub.Subscribe(context.Background(), clientID, msg.Room)
		case "unsubscribe":
			h.svc.hub.Unsubscribe(clientID, msg.Room)
		}
	}
}

// writePump forwards hub envelopes to the socket until the hub closes the
// channel (disconnect or shutdown).
func (h *handlers) writePump(conn *websocket.Conn, send <-chan events.Envelope, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case env, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := env.Marshal()
			if err != nil {
				log.Warn().Err(err).Msg("encoding envelope")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
