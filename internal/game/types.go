package game

import (
	"time"
)

type Phase string

const (
	PhaseBetting  Phase = "BETTING"
	PhaseSpinning Phase = "SPINNING"
	PhaseResults  Phase = "RESULTS"
)

// phaseRank orders phases within one round, for staleness checks on the
// client side.
func phaseRank(p Phase) int {
	switch p {
	case PhaseBetting:
		return 0
	case PhaseSpinning:
		return 1
	case PhaseResults:
		return 2
	}
	return -1
}

// Round is the manager-owned state of one betting/outcome/results cycle.
// Mutated only by the Manager while holding its lock.
type Round struct {
	ID            string
	Number        int64
	Phase         Phase
	StartedAt     time.Time
	PhaseDeadline time.Time
	ServerSeed    string
	Commitment    string
	ClientNonce   string
	Outcome       *Outcome
}

// RoundSnapshot is the immutable client-facing view of the current round.
// TimeRemaining is computed against the caller's clock at read time, never
// cached. ServerSeed stays empty until the results phase reveals it.
type RoundSnapshot struct {
	RoundID       string    `json:"round_id"`
	RoundNumber   int64     `json:"round_number"`
	Phase         Phase     `json:"phase"`
	StartedAt     time.Time `json:"started_at"`
	PhaseDeadline time.Time `json:"phase_deadline"`
	TimeRemaining float64   `json:"time_remaining"`
	Commitment    string    `json:"commitment"`
	ClientNonce   string    `json:"client_nonce"`
	Outcome       *Outcome  `json:"outcome,omitempty"`
	ServerSeed    string    `json:"server_seed,omitempty"`
}

// Newer reports whether other describes later game state than s.
func (s *RoundSnapshot) Newer(other *RoundSnapshot) bool {
	if other == nil {
		return false
	}
	if s == nil {
		return true
	}
	if other.RoundNumber != s.RoundNumber {
		return other.RoundNumber > s.RoundNumber
	}
	return phaseRank(other.Phase) > phaseRank(s.Phase)
}

// Bet is one accepted wager. Immutable once recorded; Settled flips to
// true exactly once, carrying the computed payout (possibly zero).
type Bet struct {
	BetID    string      `json:"bet_id"`
	UserID   string      `json:"user_id"`
	RoundID  string      `json:"round_id"`
	Category BetCategory `json:"category"`
	Value    int         `json:"value"` // straight number; unused for outside bets
	Amount   float64     `json:"amount"`
	PlacedAt time.Time   `json:"placed_at"`
	Settled  bool        `json:"settled"`
	Payout   float64     `json:"payout"`
}

// BetRequest carries one wager. BetID is an optional client-chosen
// idempotency key: a retried request with the same key returns the
// original bet instead of booking and debiting a second one. When empty,
// the server assigns one.
type BetRequest struct {
	UserID   string      `json:"user_id"`
	RoundID  string      `json:"round_id"`
	BetID    string      `json:"bet_id,omitempty"`
	Category BetCategory `json:"category"`
	Value    int         `json:"value"`
	Amount   float64     `json:"amount"`
}

// Rejection reasons returned to callers. Admission failures are expected
// user-facing results, not errors.
const (
	ReasonNoActiveRound       = "no-active-round"
	ReasonWrongRound          = "wrong-round"
	ReasonWrongPhase          = "wrong-phase"
	ReasonInvalidAmount       = "invalid-amount"
	ReasonInvalidBet          = "invalid-bet"
	ReasonInsufficientBalance = "insufficient-balance"
	ReasonWalletUnavailable   = "wallet-unavailable"
)

type BetResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	BetID   string `json:"bet_id,omitempty"`
	RoundID string `json:"round_id,omitempty"`
}

// Payout is one net balance-adjustment instruction, already grouped per
// user by settlement.
type Payout struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

// Event is one hub broadcast message.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	EventRoundStarted = "round_started"
	EventPhaseChanged = "phase_changed"
	EventRoundResults = "round_results"
	EventBetPlaced    = "bet_placed"
	EventHeartbeat    = "heartbeat"
)

type BetPlacedMessage struct {
	UserID   string      `json:"user_id"`
	BetID    string      `json:"bet_id"`
	Category BetCategory `json:"category"`
	Amount   float64     `json:"amount"`
}

// RoundResultsMessage reveals the seed alongside the outcome so clients
// can verify the commitment.
type RoundResultsMessage struct {
	Snapshot *RoundSnapshot `json:"snapshot"`
	Payouts  []Payout       `json:"payouts"`
}
