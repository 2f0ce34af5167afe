package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CrashEngine/internal/insurance"
	"CrashEngine/internal/ledger"
	"CrashEngine/internal/persistence"
	"CrashEngine/internal/settlement"
)

// --- Test helpers ---

// flakyStore fails the first failures calls to SettleBatch, then succeeds.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	batches  [][]persistence.ResultRow
}

func (s *flakyStore) SettleBatch(ctx context.Context, roundID uuid.UUID, results []persistence.ResultRow, claimedBets []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection reset")
	}
	s.batches = append(s.batches, results)
	return nil
}

func (s *flakyStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingReconciler struct {
	mu     sync.Mutex
	marked []uuid.UUID
}

func (r *recordingReconciler) MarkReconciliation(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = append(r.marked, id)
	return nil
}

func newTestWallet(userID uuid.UUID, balance int64) *ledger.Ledger {
	l := ledger.New(nil, zerolog.Nop())
	l.LoadBalance(userID, balance)
	return l
}

func activeBet(userID uuid.UUID, amount int64) *ledger.Bet {
	return &ledger.Bet{
		ID:       uuid.New(),
		RoundID:  uuid.New(),
		UserID:   userID,
		Amount:   amount,
		Status:   ledger.BetStatusActive,
		PlacedAt: time.Now(),
	}
}

func insuredBet(userID uuid.UUID, amount, premium, coverage int64) *ledger.Bet {
	b := activeBet(userID, amount)
	b.Insurance = &ledger.BetInsurance{
		Type:           insurance.TypeBasic,
		Premium:        premium,
		CoverageAmount: coverage,
		Status:         insurance.StatusActive,
	}
	return b
}

// ============================================================================
// Test: settlement outcomes
// ============================================================================

func TestSettleRound_RealizesLosses(t *testing.T) {
	userID := uuid.New()
	wallet := newTestWallet(userID, 1000_00)
	wallet.DebitBet(context.Background(), userID, 100_00, 0)

	store := &flakyStore{}
	proc := settlement.NewProcessor(store, nil, wallet, nil, nil, nil, zerolog.Nop())

	bet := activeBet(userID, 100_00)
	if err := proc.SettleRound(context.Background(), bet.RoundID, []*ledger.Bet{bet}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if bet.Status != ledger.BetStatusLost {
		t.Errorf("bet status: got %s, want lost", bet.Status)
	}
	if got := wallet.Balance(userID); got != 900_00 {
		t.Errorf("loser balance: got %d, want 900_00", got)
	}
	if edge := wallet.EdgeTotal(); edge != 100_00 {
		t.Errorf("edge: got %d, want 100_00", edge)
	}
	if err := wallet.CheckConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
}

func TestSettleRound_PaysInsuranceOnce(t *testing.T) {
	userID := uuid.New()
	wallet := newTestWallet(userID, 1000_00)
	wallet.DebitBet(context.Background(), userID, 100_00, 5_00)

	store := &flakyStore{}
	proc := settlement.NewProcessor(store, nil, wallet, nil, nil, nil, zerolog.Nop())

	bet := insuredBet(userID, 100_00, 5_00, 30_00)
	roundID := bet.RoundID

	if err := proc.SettleRound(context.Background(), roundID, []*ledger.Bet{bet}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// 1000 - 105 + 30 coverage.
	if got := wallet.Balance(userID); got != 925_00 {
		t.Errorf("insured loser balance: got %d, want 925_00", got)
	}
	if bet.Insurance.Status != insurance.StatusClaimed {
		t.Error("insurance should be claimed after payout")
	}

	// The same round settled again must change nothing.
	if err := proc.SettleRound(context.Background(), roundID, []*ledger.Bet{bet}); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if got := wallet.Balance(userID); got != 925_00 {
		t.Errorf("double settlement paid insurance twice: got %d", got)
	}
	if store.callCount() != 1 {
		t.Errorf("store batches: got %d, want 1", store.callCount())
	}
}

func TestSettleRound_SkipsCashedOutBets(t *testing.T) {
	userID := uuid.New()
	wallet := newTestWallet(userID, 1000_00)

	store := &flakyStore{}
	proc := settlement.NewProcessor(store, nil, wallet, nil, nil, nil, zerolog.Nop())

	won := activeBet(userID, 100_00)
	won.Status = ledger.BetStatusWon

	if err := proc.SettleRound(context.Background(), won.RoundID, []*ledger.Bet{won}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if store.callCount() != 0 {
		t.Error("a round with no losing bets should not hit the store")
	}
	if got := wallet.Balance(userID); got != 1000_00 {
		t.Errorf("cashed-out bet was re-settled: got %d", got)
	}
}

// ============================================================================
// Test: store failure handling
// ============================================================================

func TestSettleRound_RetriesTransientFailure(t *testing.T) {
	userID := uuid.New()
	wallet := newTestWallet(userID, 1000_00)
	wallet.DebitBet(context.Background(), userID, 100_00, 0)

	store := &flakyStore{failures: 2}
	rec := &recordingReconciler{}
	proc := settlement.NewProcessor(store, rec, wallet, nil, nil, nil, zerolog.Nop())

	bet := activeBet(userID, 100_00)
	if err := proc.SettleRound(context.Background(), bet.RoundID, []*ledger.Bet{bet}); err != nil {
		t.Fatalf("two transient failures should be absorbed: %v", err)
	}
	if store.callCount() != 3 {
		t.Errorf("store calls: got %d, want 3", store.callCount())
	}
	if len(rec.marked) != 0 {
		t.Error("successful settlement must not mark reconciliation")
	}
}

func TestSettleRound_ExhaustedRetriesMarkReconciliation(t *testing.T) {
	userID := uuid.New()
	wallet := newTestWallet(userID, 1000_00)
	wallet.DebitBet(context.Background(), userID, 100_00, 0)

	store := &flakyStore{failures: 100}
	rec := &recordingReconciler{}
	proc := settlement.NewProcessor(store, rec, wallet, nil, nil, nil, zerolog.Nop())

	bet := activeBet(userID, 100_00)
	err := proc.SettleRound(context.Background(), bet.RoundID, []*ledger.Bet{bet})
	if err == nil {
		t.Fatal("exhausted retries must surface the store error")
	}

	// In-memory finalization still happened.
	if bet.Status != ledger.BetStatusLost {
		t.Errorf("bet status: got %s, want lost", bet.Status)
	}
	if got := wallet.Balance(userID); got != 900_00 {
		t.Errorf("balance: got %d, want 900_00", got)
	}

	if len(rec.marked) != 1 || rec.marked[0] != bet.RoundID {
		t.Fatalf("round should be marked for reconciliation: %v", rec.marked)
	}
}

// ============================================================================
// Test: collaborator hooks
// ============================================================================

type failingHooks struct{ calls int }

func (h *failingHooks) RecordOutcome(ctx context.Context, userID, roundID uuid.UUID, wagered, returned int64) error {
	h.calls++
	return errors.New("stats service down")
}

func (h *failingHooks) AddWagered(ctx context.Context, userID uuid.UUID, wagered int64) error {
	h.calls++
	return errors.New("score service down")
}

func TestSettleRound_HooksAreBestEffort(t *testing.T) {
	userID := uuid.New()
	wallet := newTestWallet(userID, 1000_00)
	wallet.DebitBet(context.Background(), userID, 100_00, 0)

	hooks := &failingHooks{}
	proc := settlement.NewProcessor(&flakyStore{}, nil, wallet, hooks, hooks, nil, zerolog.Nop())

	bet := activeBet(userID, 100_00)
	if err := proc.SettleRound(context.Background(), bet.RoundID, []*ledger.Bet{bet}); err != nil {
		t.Fatalf("hook failures must not fail settlement: %v", err)
	}
	if hooks.calls != 2 {
		t.Errorf("both hooks should have been invoked: got %d calls", hooks.calls)
	}
}
