package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"roulette/internal/game"
)

const (
	WS_WRITE_TIMEOUT      = 10 * time.Second
	WS_HEARTBEAT_INTERVAL = 15 * time.Second
)

// wsConn serializes writes; the event pump and the read-loop replies share
// the connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(WS_WRITE_TIMEOUT))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// eventStreamHandler is the push side of the sync protocol. On connect the
// client gets the authoritative snapshot first, then transition events as
// they happen, with heartbeats so idle connections are not mistaken for
// dead ones. Clients are expected to poll /api/v1/round on reconnect
// before trusting any pushed state.
func (s *FiberServer) eventStreamHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")
	wc := &wsConn{conn: conn}

	sub := s.hub.Subscribe(userID)
	defer s.hub.Unsubscribe(sub)

	if snap := s.manager.Snapshot(); snap != nil {
		wc.writeJSON(game.Event{Type: game.EventRoundStarted, Data: snap})
	}

	done := make(chan struct{})
	go s.pumpEvents(wc, sub, done)
	defer close(done)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for user %s: %v", userID, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var clientMsg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}

		switch clientMsg.Type {
		case "ping":
			wc.writeJSON(map[string]string{"type": "pong"})

		case "place_bet":
			var req game.BetRequest
			if err := json.Unmarshal(clientMsg.Data, &req); err != nil {
				continue
			}
			req.UserID = userID

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			resp := s.manager.PlaceBet(ctx, req)
			cancel()

			wc.writeJSON(map[string]interface{}{
				"type": "bet_result",
				"data": resp,
			})
		}
	}
}

// pumpEvents delivers the subscriber's queue to the socket and keeps the
// connection alive with heartbeats. Exits when the hub closes the queue
// (stalled client dropped) or the read loop ends.
func (s *FiberServer) pumpEvents(wc *wsConn, sub *game.Subscriber, done chan struct{}) {
	heartbeat := time.NewTicker(WS_HEARTBEAT_INTERVAL)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				wc.conn.Close()
				return
			}
			if err := wc.writeJSON(ev); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := wc.writeJSON(game.Event{Type: game.EventHeartbeat}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
