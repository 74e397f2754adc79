package game

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"roulette/internal/wallet"
)

type AdvanceReason string

const (
	AdvanceTimer  AdvanceReason = "timer-expired"
	AdvanceManual AdvanceReason = "manual"
)

// Archiver receives completed rounds for durable storage. Calls are
// fire-and-forget from the manager's perspective.
type Archiver interface {
	Archive(ctx context.Context, round RoundSnapshot, bets []Bet) error
}

type Config struct {
	BettingDuration time.Duration
	SpinDuration    time.Duration
	ResultsDuration time.Duration
	TickInterval    time.Duration
	SettleTimeout   time.Duration
	ArchiveTimeout  time.Duration
	MinBet          float64
	MaxBet          float64
}

func DefaultConfig() Config {
	return Config{
		BettingDuration: 15 * time.Second,
		SpinDuration:    4 * time.Second,
		ResultsDuration: 6 * time.Second,
		TickInterval:    250 * time.Millisecond,
		SettleTimeout:   3 * time.Second,
		ArchiveTimeout:  5 * time.Second,
		MinBet:          1.0,
		MaxBet:          10000.0,
	}
}

// ConfigFromEnv overlays env vars on the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.BettingDuration = getEnvAsDuration("BETTING_DURATION_SECONDS", cfg.BettingDuration)
	cfg.SpinDuration = getEnvAsDuration("SPIN_DURATION_SECONDS", cfg.SpinDuration)
	cfg.ResultsDuration = getEnvAsDuration("RESULTS_DURATION_SECONDS", cfg.ResultsDuration)
	cfg.MinBet = getEnvAsFloat("MIN_BET_AMOUNT", cfg.MinBet)
	cfg.MaxBet = getEnvAsFloat("MAX_BET_AMOUNT", cfg.MaxBet)
	return cfg
}

// Manager owns the single current round: its phase, deadline, ledger and
// outcome. All mutations happen under one mutex so exactly one transition
// runs at a time no matter how many callers race the timer. Reads go
// through an atomic snapshot pointer and never touch the mutex.
type Manager struct {
	cfg      Config
	hub      *Hub
	wallet   wallet.Service
	retry    *wallet.RetryQueue
	archiver Archiver

	mu         sync.Mutex
	current    *Round
	ledger     *Ledger
	nextNumber int64

	snap     atomic.Pointer[RoundSnapshot]
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager wires the round manager. archiver may be nil (rounds are then
// kept in memory only). The first round is created lazily when the first
// subscriber attaches, never at construction.
func NewManager(cfg Config, hub *Hub, walletSvc wallet.Service, archiver Archiver) *Manager {
	m := &Manager{
		cfg:        cfg,
		hub:        hub,
		wallet:     walletSvc,
		retry:      wallet.NewRetryQueue(walletSvc),
		archiver:   archiver,
		nextNumber: 1,
		stop:       make(chan struct{}),
	}
	hub.OnFirstSubscriber(m.EnsureRound)
	return m
}

// Start launches the auto-advance timer and the settlement retry worker.
// The timer keeps ticking with zero clients; the pause policy lives in the
// RESULTS transition, not here.
func (m *Manager) Start() {
	m.retry.Start()
	go m.timerLoop()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.retry.Stop()
		log.Println("[GAME] Round manager stopped")
	})
}

func (m *Manager) timerLoop() {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.TriggerAdvance(AdvanceTimer)
		}
	}
}

// Snapshot returns the immutable view of the current round, or nil when
// the game is idle. TimeRemaining is recomputed against now on every call.
func (m *Manager) Snapshot() *RoundSnapshot {
	frozen := m.snap.Load()
	if frozen == nil {
		return nil
	}
	snap := *frozen
	if remaining := time.Until(snap.PhaseDeadline).Seconds(); remaining > 0 {
		snap.TimeRemaining = remaining
	} else {
		snap.TimeRemaining = 0
	}
	return &snap
}

// EnsureRound starts a round if none is running. Called on the first hub
// subscription and safe to call repeatedly.
func (m *Manager) EnsureRound() {
	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return
	}
	snap := m.startRoundLocked()
	m.mu.Unlock()

	m.hub.Broadcast(Event{Type: EventRoundStarted, Data: snap})
}

// startRoundLocked allocates the next round: fresh uuid, number previous+1,
// committed seed, betting deadline. Caller holds m.mu.
func (m *Manager) startRoundLocked() *RoundSnapshot {
	seed := GenerateSeed()
	now := time.Now()

	m.current = &Round{
		ID:            uuid.NewString(),
		Number:        m.nextNumber,
		Phase:         PhaseBetting,
		StartedAt:     now,
		PhaseDeadline: now.Add(m.cfg.BettingDuration),
		ServerSeed:    seed,
		Commitment:    HashCommitment(seed),
		ClientNonce:   uuid.NewString(),
	}
	m.nextNumber++
	m.ledger = NewLedger(m.current.ID)

	log.Printf("[GAME] Round %d started (%s), betting closes in %s", m.current.Number, m.current.ID, m.cfg.BettingDuration)
	return m.publishLocked()
}

// publishLocked freezes the current round into the atomic snapshot and
// returns it. Caller holds m.mu.
func (m *Manager) publishLocked() *RoundSnapshot {
	r := m.current
	if r == nil {
		m.snap.Store(nil)
		return nil
	}

	snap := &RoundSnapshot{
		RoundID:       r.ID,
		RoundNumber:   r.Number,
		Phase:         r.Phase,
		StartedAt:     r.StartedAt,
		PhaseDeadline: r.PhaseDeadline,
		Commitment:    r.Commitment,
		ClientNonce:   r.ClientNonce,
	}
	// Outcome becomes visible once spun; the seed only after results, so
	// the commitment cannot be checked against it early.
	if r.Phase == PhaseSpinning || r.Phase == PhaseResults {
		snap.Outcome = r.Outcome
	}
	if r.Phase == PhaseResults {
		snap.ServerSeed = r.ServerSeed
	}
	m.snap.Store(snap)
	return snap
}

// PlaceBet admits one wager. The phase check runs under the round mutex,
// the wallet debit outside it, and the phase is re-checked before the bet
// is recorded: a request that raced the betting deadline loses the race
// and is refunded. A retried request carrying the same bet id returns
// the original bet without debiting again.
func (m *Manager) PlaceBet(ctx context.Context, req BetRequest) BetResponse {
	if req.Amount < m.cfg.MinBet || req.Amount > m.cfg.MaxBet {
		return BetResponse{Reason: ReasonInvalidAmount}
	}
	if !ValidCategory(req.Category) {
		return BetResponse{Reason: ReasonInvalidBet}
	}
	if req.Category == BetStraight && (req.Value < 0 || req.Value >= WHEEL_POSITIONS) {
		return BetResponse{Reason: ReasonInvalidBet}
	}

	betID := req.BetID
	if betID == "" {
		betID = uuid.NewString()
	}

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return BetResponse{Reason: ReasonNoActiveRound}
	}
	if req.RoundID != m.current.ID {
		m.mu.Unlock()
		return BetResponse{Reason: ReasonWrongRound}
	}
	if m.current.Phase != PhaseBetting {
		m.mu.Unlock()
		return BetResponse{Reason: ReasonWrongPhase}
	}
	if prior, ok := m.ledger.Lookup(betID); ok {
		// Retried request; the wager is already booked and debited.
		m.mu.Unlock()
		return BetResponse{Success: true, BetID: prior.BetID, RoundID: prior.RoundID}
	}
	roundID := m.current.ID
	ledger := m.ledger
	m.mu.Unlock()

	if err := m.wallet.HoldOrDebit(ctx, req.UserID, req.Amount); err != nil {
		if errors.Is(err, wallet.ErrInsufficient) {
			return BetResponse{Reason: ReasonInsufficientBalance}
		}
		log.Printf("[GAME] Wallet debit failed for %s: %v", req.UserID, err)
		return BetResponse{Reason: ReasonWalletUnavailable}
	}

	bet := Bet{
		BetID:    betID,
		UserID:   req.UserID,
		RoundID:  roundID,
		Category: req.Category,
		Value:    req.Value,
		Amount:   req.Amount,
		PlacedAt: time.Now(),
	}

	m.mu.Lock()
	stillOpen := m.current != nil && m.current.ID == roundID && m.current.Phase == PhaseBetting
	var recordErr error
	if stillOpen {
		recordErr = ledger.Record(bet)
	}
	m.mu.Unlock()

	if stillOpen && errors.Is(recordErr, ErrDuplicateBet) {
		// Two identical retries raced past the lookup; one bet stands and
		// the second debit goes back.
		m.retry.Enqueue(req.UserID, req.Amount)
		return BetResponse{Success: true, BetID: betID, RoundID: roundID}
	}
	if !stillOpen || recordErr != nil {
		// Betting closed while the debit was in flight; give the stake back.
		m.retry.Enqueue(req.UserID, req.Amount)
		return BetResponse{Reason: ReasonWrongPhase}
	}

	m.hub.Broadcast(Event{Type: EventBetPlaced, Data: BetPlacedMessage{
		UserID:   bet.UserID,
		BetID:    bet.BetID,
		Category: bet.Category,
		Amount:   bet.Amount,
	}})

	log.Printf("[GAME] Bet accepted: %s %.2f on %s (round %d)", bet.UserID, bet.Amount, bet.Category, m.snapNumber())
	return BetResponse{Success: true, BetID: bet.BetID, RoundID: roundID}
}

func (m *Manager) snapNumber() int64 {
	if s := m.snap.Load(); s != nil {
		return s.RoundNumber
	}
	return 0
}

// TriggerAdvance is the only path by which phases change. Timer-driven
// calls are no-ops until the deadline has elapsed; manual calls advance
// immediately. Calling it when nothing is due, or when no round exists,
// does nothing, so the timer may call it every tick.
func (m *Manager) TriggerAdvance(reason AdvanceReason) {
	m.mu.Lock()

	if m.current == nil {
		m.mu.Unlock()
		return
	}
	if reason == AdvanceTimer && time.Now().Before(m.current.PhaseDeadline) {
		m.mu.Unlock()
		return
	}

	switch m.current.Phase {
	case PhaseBetting:
		m.advanceToSpinningLocked()
	case PhaseSpinning:
		m.advanceToResultsLocked()
	case PhaseResults:
		m.finishRoundLocked()
	default:
		m.mu.Unlock()
	}
}

// BETTING -> SPINNING: freeze the book first so no admission can slip in,
// then compute the outcome from the committed seed. Releases m.mu.
func (m *Manager) advanceToSpinningLocked() {
	m.ledger.Freeze()

	out := ComputeOutcome(m.current.ServerSeed, m.current.ID)
	m.current.Outcome = &out
	m.current.Phase = PhaseSpinning
	m.current.PhaseDeadline = time.Now().Add(m.cfg.SpinDuration)
	snap := m.publishLocked()
	m.mu.Unlock()

	log.Printf("[GAME] Round %d spinning, outcome %d %s", snap.RoundNumber, out.Number, out.Color)
	m.hub.Broadcast(Event{Type: EventPhaseChanged, Data: snap})
}

// SPINNING -> RESULTS: settle exactly once, reveal the seed, dispatch the
// per-user credits in the background. Releases m.mu.
func (m *Manager) advanceToResultsLocked() {
	payouts := m.ledger.Settle(*m.current.Outcome)

	m.current.Phase = PhaseResults
	m.current.PhaseDeadline = time.Now().Add(m.cfg.ResultsDuration)
	snap := m.publishLocked()
	m.mu.Unlock()

	m.dispatchPayouts(payouts)

	log.Printf("[GAME] Round %d settled: %d payout instructions", snap.RoundNumber, len(payouts))
	m.hub.Broadcast(Event{Type: EventRoundResults, Data: RoundResultsMessage{
		Snapshot: snap,
		Payouts:  payouts,
	}})
}

// RESULTS -> next BETTING: archive the finished round, then either start
// the next one or pause when nobody is watching. Releases m.mu.
func (m *Manager) finishRoundLocked() {
	finished := m.snap.Load()
	book := m.ledger.Bets()

	if m.hub.Count() == 0 {
		m.current = nil
		m.ledger = nil
		m.snap.Store(nil)
		m.mu.Unlock()

		m.archiveRound(finished, book)
		log.Printf("[GAME] Round %d archived; no subscribers, pausing until next connect", finished.RoundNumber)
		return
	}

	snap := m.startRoundLocked()
	m.mu.Unlock()

	m.archiveRound(finished, book)
	m.hub.Broadcast(Event{Type: EventRoundStarted, Data: snap})
}

func (m *Manager) archiveRound(snap *RoundSnapshot, bets []Bet) {
	if m.archiver == nil || snap == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ArchiveTimeout)
		defer cancel()
		if err := m.archiver.Archive(ctx, *snap, bets); err != nil {
			log.Printf("[GAME] Archive of round %d failed: %v", snap.RoundNumber, err)
		}
	}()
}

// dispatchPayouts issues one concurrent wallet credit per distinct user.
// Each call is time-bounded; a failure lands in the retry queue and never
// holds up the round or the other users.
func (m *Manager) dispatchPayouts(payouts []Payout) {
	for _, p := range payouts {
		if p.Amount <= 0 {
			continue
		}
		go func(p Payout) {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SettleTimeout)
			defer cancel()
			if err := m.wallet.Credit(ctx, p.UserID, p.Amount); err != nil {
				log.Printf("[GAME] Credit failed for %s (%.2f), queued for retry: %v", p.UserID, p.Amount, err)
				m.retry.Enqueue(p.UserID, p.Amount)
			}
		}(p)
	}
}

// CurrentBets exposes the live book for activity feeds. Empty when idle.
func (m *Manager) CurrentBets() []Bet {
	m.mu.Lock()
	ledger := m.ledger
	m.mu.Unlock()
	if ledger == nil {
		return nil
	}
	return ledger.Bets()
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
