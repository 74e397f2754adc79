package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roulette/internal/game"
)

const (
	DEFAULT_POLL_INTERVAL = 2 * time.Second
	WS_READ_TIMEOUT       = 45 * time.Second // > server heartbeat interval
)

// Syncer keeps a local copy of the current round in sync with the server.
// Polling is the source of truth: on every (re)connect the snapshot is
// fetched first, and only then does the push stream take over. A pushed
// event older than the local state is ignored; locally cached phase or
// timer state is never trusted across a connection gap.
type Syncer struct {
	baseURL      string // http(s)://host:port
	wsURL        string // ws(s)://host:port/ws
	userID       string
	httpClient   *http.Client
	dialer       *websocket.Dialer
	pollInterval time.Duration

	mu      sync.RWMutex
	current *game.RoundSnapshot
}

func NewSyncer(baseURL, wsURL, userID string) *Syncer {
	return &Syncer{
		baseURL:      baseURL,
		wsURL:        wsURL,
		userID:       userID,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		dialer:       websocket.DefaultDialer,
		pollInterval: DEFAULT_POLL_INTERVAL,
	}
}

// Current returns the last reconciled snapshot, nil before first sync.
func (s *Syncer) Current() *game.RoundSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	snap := *s.current
	return &snap
}

// TimeRemaining computes the phase time left from the local snapshot's
// deadline, clamped at zero.
func (s *Syncer) TimeRemaining() float64 {
	snap := s.Current()
	if snap == nil {
		return 0
	}
	if remaining := time.Until(snap.PhaseDeadline).Seconds(); remaining > 0 {
		return remaining
	}
	return 0
}

// Run drives the sync loop until the context is cancelled: poll snapshot,
// attach to push, consume events; on any failure fall back to polling and
// repeat the handshake.
func (s *Syncer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		snap, err := s.Poll(ctx)
		if err != nil {
			log.Printf("[SYNC] Poll failed: %v", err)
			s.sleep(ctx)
			continue
		}
		s.adopt(snap)

		conn, _, err := s.dialer.DialContext(ctx, s.wsURL+"?user_id="+s.userID, nil)
		if err != nil {
			// Push unavailable; polling alone still keeps us in sync.
			s.sleep(ctx)
			continue
		}

		s.consume(ctx, conn)
		conn.Close()
	}
}

// Poll fetches the authoritative snapshot. A 404 means the game is idle
// (no round yet); that clears local state rather than erroring.
func (s *Syncer) Poll(ctx context.Context) (*game.RoundSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/round", nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request: %s", resp.Status)
	}

	var snap game.RoundSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Syncer) consume(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(WS_READ_TIMEOUT))
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[SYNC] Push connection lost, falling back to polling: %v", err)
			return
		}
		s.ApplyPush(message)
	}
}

// ApplyPush folds one pushed event into local state. Push is a latency
// optimization only, so stale or unknown events are dropped silently.
func (s *Syncer) ApplyPush(message []byte) {
	var ev struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &ev); err != nil {
		return
	}

	switch ev.Type {
	case game.EventRoundStarted, game.EventPhaseChanged:
		var snap game.RoundSnapshot
		if err := json.Unmarshal(ev.Data, &snap); err != nil {
			return
		}
		s.reconcile(&snap)

	case game.EventRoundResults:
		var msg game.RoundResultsMessage
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return
		}
		s.reconcile(msg.Snapshot)
	}
}

// adopt replaces local state with a polled snapshot unconditionally; the
// poll endpoint is authoritative.
func (s *Syncer) adopt(snap *game.RoundSnapshot) {
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
}

// reconcile applies a pushed snapshot only when it is not older than the
// local one.
func (s *Syncer) reconcile(snap *game.RoundSnapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	if s.current == nil || s.current.Newer(snap) {
		s.current = snap
	}
	s.mu.Unlock()
}

func (s *Syncer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.pollInterval):
	}
}
