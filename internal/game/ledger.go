package game

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrLedgerFrozen = errors.New("ledger frozen")
	ErrWrongRound   = errors.New("bet round does not match ledger round")
	ErrDuplicateBet = errors.New("duplicate bet id")
	ErrInvalidBet   = errors.New("invalid bet")
)

// Ledger is the append-only bet book for a single round. Bets are never
// deleted, only marked settled, so the full book can be archived.
type Ledger struct {
	mu      sync.Mutex
	roundID string
	order   []string // insertion order, for archive and activity feeds
	bets    map[string]*Bet
	frozen  bool
	settled bool
}

func NewLedger(roundID string) *Ledger {
	return &Ledger{
		roundID: roundID,
		bets:    make(map[string]*Bet),
	}
}

// Record appends a bet. Duplicate bet IDs are rejected so a retried
// network call cannot double-book a wager.
func (l *Ledger) Record(bet Bet) error {
	if bet.BetID == "" || bet.UserID == "" || bet.Amount <= 0 {
		return ErrInvalidBet
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bet.RoundID != l.roundID {
		return ErrWrongRound
	}
	if l.frozen {
		return ErrLedgerFrozen
	}
	if _, exists := l.bets[bet.BetID]; exists {
		return ErrDuplicateBet
	}

	b := bet
	l.bets[bet.BetID] = &b
	l.order = append(l.order, bet.BetID)
	return nil
}

// Freeze closes the book. Any Record call after Freeze fails, even if the
// admission request raced the betting deadline.
func (l *Ledger) Freeze() {
	l.mu.Lock()
	l.frozen = true
	l.mu.Unlock()
}

// Settle computes payouts for every recorded bet and groups them into one
// net credit instruction per user, so the number of downstream wallet
// calls is bounded by distinct bettors rather than bets.
//
// Settlement runs exactly once per round; a second call is a programmer
// error and panics rather than silently double-paying.
func (l *Ledger) Settle(outcome Outcome) []Payout {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.settled {
		panic(fmt.Sprintf("ledger for round %s settled twice", l.roundID))
	}
	if !l.frozen {
		panic(fmt.Sprintf("ledger for round %s settled before freeze", l.roundID))
	}
	l.settled = true

	totals := make(map[string]float64)
	for _, id := range l.order {
		bet := l.bets[id]
		bet.Payout = bet.Amount * Multiplier(bet.Category, bet.Value, outcome)
		bet.Settled = true
		totals[bet.UserID] += bet.Payout
	}

	users := make([]string, 0, len(totals))
	for user := range totals {
		users = append(users, user)
	}
	sort.Strings(users)

	payouts := make([]Payout, 0, len(users))
	for _, user := range users {
		payouts = append(payouts, Payout{UserID: user, Amount: totals[user]})
	}
	return payouts
}

// Lookup returns the recorded bet with the given id, if any.
func (l *Ledger) Lookup(betID string) (Bet, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.bets[betID]; ok {
		return *b, true
	}
	return Bet{}, false
}

// Bets returns the book in insertion order, copied.
func (l *Ledger) Bets() []Bet {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Bet, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.bets[id])
	}
	return out
}

func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bets)
}
