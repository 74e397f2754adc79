package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roulette/internal/wallet"
)

// fakeWallet is an in-memory wallet.Service with optional injected
// credit failures.
type fakeWallet struct {
	mu          sync.Mutex
	balances    map[string]float64
	failCredits map[string]int // remaining failures per user
	creditCalls map[string]int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		balances:    make(map[string]float64),
		failCredits: make(map[string]int),
		creditCalls: make(map[string]int),
	}
}

func (w *fakeWallet) HoldOrDebit(ctx context.Context, userID string, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[userID] < amount {
		return wallet.ErrInsufficient
	}
	w.balances[userID] -= amount
	return nil
}

func (w *fakeWallet) Credit(ctx context.Context, userID string, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.creditCalls[userID]++
	if w.failCredits[userID] > 0 {
		w.failCredits[userID]--
		return errors.New("wallet unreachable")
	}
	w.balances[userID] += amount
	return nil
}

func (w *fakeWallet) Balance(ctx context.Context, userID string) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID], nil
}

func (w *fakeWallet) setBalance(userID string, amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = amount
}

func (w *fakeWallet) credits(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.creditCalls[userID]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestManager(t *testing.T, w *fakeWallet) (*Manager, *Hub) {
	t.Helper()
	cfg := DefaultConfig()
	hub := NewHub()
	m := NewManager(cfg, hub, w, nil)
	return m, hub
}

func drain(sub *Subscriber) {
	go func() {
		for range sub.Events {
		}
	}()
}

func TestManager_LazyFirstRound(t *testing.T) {
	m, hub := newTestManager(t, newFakeWallet())

	if m.Snapshot() != nil {
		t.Fatal("round exists before any subscriber")
	}

	sub := hub.Subscribe("alice")
	defer hub.Unsubscribe(sub)
	drain(sub)

	snap := m.Snapshot()
	if snap == nil {
		t.Fatal("first subscription did not start a round")
	}
	if snap.RoundNumber != 1 {
		t.Errorf("first round number = %d, want 1", snap.RoundNumber)
	}
	if snap.Phase != PhaseBetting {
		t.Errorf("first round phase = %v, want BETTING", snap.Phase)
	}
	if snap.Commitment == "" {
		t.Error("round has no seed commitment")
	}
	if snap.ServerSeed != "" {
		t.Error("server seed leaked before results")
	}
}

func TestManager_PlaceBet_Rejections(t *testing.T) {
	w := newFakeWallet()
	w.setBalance("alice", 50)
	m, hub := newTestManager(t, w)

	ctx := context.Background()

	if resp := m.PlaceBet(ctx, BetRequest{UserID: "alice", Category: BetRed, Amount: 10}); resp.Reason != ReasonNoActiveRound {
		t.Errorf("no round: reason = %q, want %q", resp.Reason, ReasonNoActiveRound)
	}

	sub := hub.Subscribe("alice")
	defer hub.Unsubscribe(sub)
	drain(sub)
	roundID := m.Snapshot().RoundID

	tests := []struct {
		name string
		req  BetRequest
		want string
	}{
		{"amount below minimum", BetRequest{UserID: "alice", RoundID: roundID, Category: BetRed, Amount: 0.5}, ReasonInvalidAmount},
		{"amount above maximum", BetRequest{UserID: "alice", RoundID: roundID, Category: BetRed, Amount: 1e6}, ReasonInvalidAmount},
		{"unknown category", BetRequest{UserID: "alice", RoundID: roundID, Category: "corner", Amount: 10}, ReasonInvalidBet},
		{"straight out of range", BetRequest{UserID: "alice", RoundID: roundID, Category: BetStraight, Value: 37, Amount: 10}, ReasonInvalidBet},
		{"stale round id", BetRequest{UserID: "alice", RoundID: "other-round", Category: BetRed, Amount: 10}, ReasonWrongRound},
		{"insufficient balance", BetRequest{UserID: "alice", RoundID: roundID, Category: BetRed, Amount: 60}, ReasonInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := m.PlaceBet(ctx, tt.req)
			if resp.Success {
				t.Fatal("bet unexpectedly accepted")
			}
			if resp.Reason != tt.want {
				t.Errorf("reason = %q, want %q", resp.Reason, tt.want)
			}
		})
	}

	// None of the rejections may have touched the balance.
	if bal, _ := w.Balance(ctx, "alice"); bal != 50 {
		t.Errorf("balance after rejections = %.2f, want 50", bal)
	}
}

// A network retry replays the same request with the same client-chosen
// bet id; only the first attempt books and debits.
func TestManager_PlaceBet_RetriedRequestIdempotent(t *testing.T) {
	w := newFakeWallet()
	w.setBalance("alice", 100)
	m, hub := newTestManager(t, w)

	sub := hub.Subscribe("alice")
	defer hub.Unsubscribe(sub)
	drain(sub)

	ctx := context.Background()
	req := BetRequest{
		UserID:   "alice",
		RoundID:  m.Snapshot().RoundID,
		BetID:    "client-key-1",
		Category: BetRed,
		Amount:   40,
	}

	first := m.PlaceBet(ctx, req)
	if !first.Success || first.BetID != "client-key-1" {
		t.Fatalf("first attempt = %+v, want success with the supplied bet id", first)
	}

	second := m.PlaceBet(ctx, req)
	if !second.Success || second.BetID != first.BetID {
		t.Errorf("retried attempt = %+v, want the original bet id back", second)
	}

	if bal, _ := w.Balance(ctx, "alice"); bal != 60 {
		t.Errorf("balance = %.2f after a retried request, want 60 (single debit)", bal)
	}
	if n := len(m.CurrentBets()); n != 1 {
		t.Errorf("book has %d bets after a retried request, want 1", n)
	}
}

func TestManager_FullRoundCycle(t *testing.T) {
	w := newFakeWallet()
	w.setBalance("alice", 1000)
	w.setBalance("bob", 1000)

	m, hub := newTestManager(t, w)
	m.Start()
	defer m.Stop()

	sub := hub.Subscribe("watcher")
	defer hub.Unsubscribe(sub)
	drain(sub)

	ctx := context.Background()
	snap := m.Snapshot()

	respA := m.PlaceBet(ctx, BetRequest{UserID: "alice", RoundID: snap.RoundID, Category: BetRed, Amount: 100})
	if !respA.Success {
		t.Fatalf("alice's bet rejected: %s", respA.Reason)
	}
	respB := m.PlaceBet(ctx, BetRequest{UserID: "bob", RoundID: snap.RoundID, Category: BetStraight, Value: 17, Amount: 50})
	if !respB.Success {
		t.Fatalf("bob's bet rejected: %s", respB.Reason)
	}

	// BETTING -> SPINNING
	m.TriggerAdvance(AdvanceManual)
	spin := m.Snapshot()
	if spin.Phase != PhaseSpinning {
		t.Fatalf("phase = %v, want SPINNING", spin.Phase)
	}
	if spin.Outcome == nil {
		t.Fatal("no outcome recorded on spin")
	}

	// Admission after the freeze loses the race even with the old round id.
	late := m.PlaceBet(ctx, BetRequest{UserID: "alice", RoundID: snap.RoundID, Category: BetBlack, Amount: 10})
	if late.Success || late.Reason != ReasonWrongPhase {
		t.Errorf("late bet: success=%v reason=%q, want wrong-phase rejection", late.Success, late.Reason)
	}

	// SPINNING -> RESULTS
	m.TriggerAdvance(AdvanceManual)
	results := m.Snapshot()
	if results.Phase != PhaseResults {
		t.Fatalf("phase = %v, want RESULTS", results.Phase)
	}
	if results.ServerSeed == "" {
		t.Fatal("server seed not revealed with results")
	}
	if !VerifyOutcome(results.ServerSeed, results.RoundID, results.Commitment, results.Outcome.Number) {
		t.Error("revealed seed does not verify against commitment and outcome")
	}

	// Credits are dispatched asynchronously; wait for the winners.
	out := *results.Outcome
	expectedA := 100 * Multiplier(BetRed, 0, out)
	expectedB := 50 * Multiplier(BetStraight, 17, out)

	if expectedA > 0 {
		waitFor(t, 2*time.Second, func() bool { return w.credits("alice") == 1 })
	}
	if expectedB > 0 {
		waitFor(t, 2*time.Second, func() bool { return w.credits("bob") == 1 })
	}

	waitFor(t, 2*time.Second, func() bool {
		balA, _ := w.Balance(ctx, "alice")
		balB, _ := w.Balance(ctx, "bob")
		return balA == 900+expectedA && balB == 950+expectedB
	})

	// RESULTS -> next round
	m.TriggerAdvance(AdvanceManual)
	next := m.Snapshot()
	if next.RoundNumber != snap.RoundNumber+1 {
		t.Errorf("next round number = %d, want %d", next.RoundNumber, snap.RoundNumber+1)
	}
	if next.Phase != PhaseBetting {
		t.Errorf("next round phase = %v, want BETTING", next.Phase)
	}
	if next.Commitment == snap.Commitment {
		t.Error("next round reuses the previous seed commitment")
	}
}

func TestManager_TimerOnlyProgression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BettingDuration = 60 * time.Millisecond
	cfg.SpinDuration = 40 * time.Millisecond
	cfg.ResultsDuration = 60 * time.Millisecond
	cfg.TickInterval = 10 * time.Millisecond

	hub := NewHub()
	m := NewManager(cfg, hub, newFakeWallet(), nil)
	m.Start()
	defer m.Stop()

	sub := hub.Subscribe("watcher")
	defer hub.Unsubscribe(sub)
	drain(sub)

	// No bets placed; the timer alone must cycle rounds on schedule.
	waitFor(t, 2*time.Second, func() bool {
		snap := m.Snapshot()
		return snap != nil && snap.RoundNumber >= 3
	})

	snap := m.Snapshot()
	if snap.TimeRemaining < 0 {
		t.Errorf("time remaining = %f, want >= 0", snap.TimeRemaining)
	}
}

func TestManager_TriggerAdvance_NotDueIsNoop(t *testing.T) {
	m, hub := newTestManager(t, newFakeWallet())

	// No round at all: must not panic.
	m.TriggerAdvance(AdvanceTimer)

	sub := hub.Subscribe("alice")
	defer hub.Unsubscribe(sub)
	drain(sub)

	before := m.Snapshot()
	for i := 0; i < 10; i++ {
		m.TriggerAdvance(AdvanceTimer) // deadline far in the future
	}
	after := m.Snapshot()

	if before.Phase != after.Phase || before.RoundID != after.RoundID {
		t.Error("timer advance before the deadline changed state")
	}
}

func TestManager_TimeRemainingNonIncreasing(t *testing.T) {
	m, hub := newTestManager(t, newFakeWallet())
	sub := hub.Subscribe("alice")
	defer hub.Unsubscribe(sub)
	drain(sub)

	prev := m.Snapshot().TimeRemaining
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		cur := m.Snapshot().TimeRemaining
		if cur > prev {
			t.Fatalf("time remaining increased within a phase: %f -> %f", prev, cur)
		}
		if cur < 0 {
			t.Fatalf("time remaining negative: %f", cur)
		}
		prev = cur
	}
}

func TestManager_SettlementRetryIsolated(t *testing.T) {
	w := newFakeWallet()
	w.setBalance("alice", 1000)
	w.setBalance("bob", 1000)
	w.failCredits["bob"] = 1 // first credit attempt fails

	m, hub := newTestManager(t, w)
	m.Start()
	defer m.Stop()

	sub := hub.Subscribe("watcher")
	defer hub.Unsubscribe(sub)
	drain(sub)

	ctx := context.Background()
	roundID := m.Snapshot().RoundID

	// Both bet on every color so someone always wins.
	for _, cat := range []BetCategory{BetRed, BetBlack} {
		if resp := m.PlaceBet(ctx, BetRequest{UserID: "alice", RoundID: roundID, Category: cat, Amount: 100}); !resp.Success {
			t.Fatalf("alice %s bet rejected: %s", cat, resp.Reason)
		}
		if resp := m.PlaceBet(ctx, BetRequest{UserID: "bob", RoundID: roundID, Category: cat, Amount: 100}); !resp.Success {
			t.Fatalf("bob %s bet rejected: %s", cat, resp.Reason)
		}
	}

	m.TriggerAdvance(AdvanceManual) // SPINNING
	out := *m.Snapshot().Outcome
	m.TriggerAdvance(AdvanceManual) // RESULTS, dispatches credits

	win := 100 * OUTSIDE_MULTIPLIER
	if out.Number == 0 {
		win = 0 // zero: both outside bets lose, nothing to credit
	}

	// The round must complete regardless of bob's wallet failure.
	m.TriggerAdvance(AdvanceManual)
	if m.Snapshot().RoundNumber != 2 {
		t.Fatal("round did not complete while a credit was failing")
	}

	if win > 0 {
		// Alice is paid promptly.
		waitFor(t, 2*time.Second, func() bool {
			bal, _ := w.Balance(ctx, "alice")
			return bal == 800+win
		})
		// Bob's first credit fails, the retry makes him whole.
		waitFor(t, 5*time.Second, func() bool {
			bal, _ := w.Balance(ctx, "bob")
			return bal == 800+win
		})
		if w.credits("bob") < 2 {
			t.Errorf("bob credit attempts = %d, want >= 2 (initial + retry)", w.credits("bob"))
		}
	}
}

func TestManager_RefundWhenBetRacesFreeze(t *testing.T) {
	w := newFakeWallet()
	w.setBalance("alice", 100)

	cfg := DefaultConfig()
	hub := NewHub()
	slow := &slowDebitWallet{inner: w, advance: func() {}}
	m := NewManager(cfg, hub, slow, nil)
	slow.advance = func() { m.TriggerAdvance(AdvanceManual) }
	m.Start()
	defer m.Stop()

	sub := hub.Subscribe("watcher")
	defer hub.Unsubscribe(sub)
	drain(sub)

	roundID := m.Snapshot().RoundID

	// The debit succeeds, but betting closes before the bet is recorded.
	resp := m.PlaceBet(context.Background(), BetRequest{UserID: "alice", RoundID: roundID, Category: BetRed, Amount: 40})
	if resp.Success || resp.Reason != ReasonWrongPhase {
		t.Fatalf("racing bet: success=%v reason=%q, want wrong-phase", resp.Success, resp.Reason)
	}

	// The stake comes back through the retry queue.
	waitFor(t, 3*time.Second, func() bool {
		bal, _ := w.Balance(context.Background(), "alice")
		return bal == 100
	})

	if m.CurrentBets() != nil && len(m.CurrentBets()) != 0 {
		t.Error("racing bet was recorded despite the freeze")
	}
}

// slowDebitWallet advances the round between the debit and the record
// step, simulating an admission that loses the race with the deadline.
type slowDebitWallet struct {
	inner   *fakeWallet
	advance func()
	once    sync.Once
}

func (w *slowDebitWallet) HoldOrDebit(ctx context.Context, userID string, amount float64) error {
	err := w.inner.HoldOrDebit(ctx, userID, amount)
	w.once.Do(w.advance)
	return err
}

func (w *slowDebitWallet) Credit(ctx context.Context, userID string, amount float64) error {
	return w.inner.Credit(ctx, userID, amount)
}

func (w *slowDebitWallet) Balance(ctx context.Context, userID string) (float64, error) {
	return w.inner.Balance(ctx, userID)
}

func TestManager_PausesWithoutSubscribers(t *testing.T) {
	m, hub := newTestManager(t, newFakeWallet())

	sub := hub.Subscribe("alice")
	drain(sub)
	if m.Snapshot() == nil {
		t.Fatal("no round after subscribe")
	}
	hub.Unsubscribe(sub)

	// Finish the round with nobody watching: the manager parks instead of
	// starting round 2.
	m.TriggerAdvance(AdvanceManual)
	m.TriggerAdvance(AdvanceManual)
	m.TriggerAdvance(AdvanceManual)

	if snap := m.Snapshot(); snap != nil {
		t.Fatalf("round %d still running with zero subscribers", snap.RoundNumber)
	}

	// Next connect resumes with a fresh round and no gap in numbering.
	sub2 := hub.Subscribe("bob")
	defer hub.Unsubscribe(sub2)
	drain(sub2)

	snap := m.Snapshot()
	if snap == nil {
		t.Fatal("reconnect did not resume the game")
	}
	if snap.RoundNumber != 2 {
		t.Errorf("resumed round number = %d, want 2", snap.RoundNumber)
	}
}

func TestManager_BroadcastsTransitions(t *testing.T) {
	m, hub := newTestManager(t, newFakeWallet())

	sub := hub.Subscribe("alice")
	defer hub.Unsubscribe(sub)

	m.TriggerAdvance(AdvanceManual)
	m.TriggerAdvance(AdvanceManual)

	want := []string{EventRoundStarted, EventPhaseChanged, EventRoundResults}
	for _, wanted := range want {
		select {
		case ev := <-sub.Events:
			if ev.Type != wanted {
				t.Errorf("event = %q, want %q", ev.Type, wanted)
			}
		case <-time.After(time.Second):
			t.Fatalf("did not receive %q", wanted)
		}
	}
}
