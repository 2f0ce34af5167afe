package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CrashEngine/internal/ledger"
)

func newTestLedger() *ledger.Ledger {
	return ledger.New(nil, zerolog.Nop())
}

// ============================================================================
// Test: DebitBet
// ============================================================================

func TestDebitBet_TakesStakeAndPremium(t *testing.T) {
	l := newTestLedger()
	userID := uuid.New()
	l.LoadBalance(userID, 1000_00)

	balance, err := l.DebitBet(context.Background(), userID, 100_00, 5_00)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 895_00 {
		t.Errorf("post-debit balance: got %d, want 895_00", balance)
	}
	if locked := l.LockedTotal(); locked != 100_00 {
		t.Errorf("locked total: got %d, want 100_00", locked)
	}
	if edge := l.EdgeTotal(); edge != 5_00 {
		t.Errorf("premium should be realized edge immediately: got %d", edge)
	}
}

func TestDebitBet_InsufficientBalance(t *testing.T) {
	l := newTestLedger()
	userID := uuid.New()
	l.LoadBalance(userID, 50_00)

	_, err := l.DebitBet(context.Background(), userID, 100_00, 0)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	if got := l.Balance(userID); got != 50_00 {
		t.Errorf("failed debit must not touch the balance: got %d", got)
	}
	if l.LockedTotal() != 0 {
		t.Error("failed debit must not lock anything")
	}
}

func TestDebitBet_PremiumCountsTowardAffordability(t *testing.T) {
	l := newTestLedger()
	userID := uuid.New()
	l.LoadBalance(userID, 100_00)

	// Stake alone fits, stake plus premium does not.
	_, err := l.DebitBet(context.Background(), userID, 100_00, 5_00)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
}

// ============================================================================
// Test: CreditWin / SettleLoss / RefundBet
// ============================================================================

func TestCreditWin_CashOutAtTwoX(t *testing.T) {
	l := newTestLedger()
	userID := uuid.New()
	l.LoadBalance(userID, 1000_00)

	if _, err := l.DebitBet(context.Background(), userID, 100_00, 0); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err := l.CreditWin(context.Background(), userID, 100_00, 200_00)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 1100_00 {
		t.Errorf("1000 - 100 + 200: got %d, want 1100_00", balance)
	}
	if l.LockedTotal() != 0 {
		t.Errorf("stake should have left the locked pool: %d", l.LockedTotal())
	}
	if edge := l.EdgeTotal(); edge != -100_00 {
		t.Errorf("operator edge on a 2x cash-out: got %d, want -100_00", edge)
	}
	if err := l.CheckConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
}

func TestSettleLoss_Uninsured(t *testing.T) {
	l := newTestLedger()
	userID := uuid.New()
	l.LoadBalance(userID, 500_00)

	l.DebitBet(context.Background(), userID, 200_00, 0)
	balance, err := l.SettleLoss(context.Background(), userID, 200_00, 0)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if balance != 300_00 {
		t.Errorf("balance after loss: got %d, want 300_00", balance)
	}
	if edge := l.EdgeTotal(); edge != 200_00 {
		t.Errorf("lost stake should be edge: got %d", edge)
	}
	if err := l.CheckConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
}

func TestSettleLoss_WithCoverage(t *testing.T) {
	l := newTestLedger()
	userID := uuid.New()
	l.LoadBalance(userID, 500_00)

	// 100 stake, 5 premium, 30 coverage on loss.
	l.DebitBet(context.Background(), userID, 100_00, 5_00)
	balance, err := l.SettleLoss(context.Background(), userID, 100_00, 30_00)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if balance != 425_00 {
		t.Errorf("500 - 105 + 30: got %d, want 425_00", balance)
	}
	if edge := l.EdgeTotal(); edge != 75_00 {
		t.Errorf("edge is premium plus stake minus coverage: got %d, want 75_00", edge)
	}
	if err := l.CheckConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
}

func TestRefundBet_ExactInverse(t *testing.T) {
	l := newTestLedger()
	userID := uuid.New()
	l.LoadBalance(userID, 1000_00)

	l.DebitBet(context.Background(), userID, 100_00, 10_00)
	balance := l.RefundBet(context.Background(), userID, 100_00, 10_00)

	if balance != 1000_00 {
		t.Errorf("refund should restore the balance: got %d", balance)
	}
	if l.LockedTotal() != 0 || l.EdgeTotal() != 0 {
		t.Errorf("refund should zero the pools: locked=%d edge=%d", l.LockedTotal(), l.EdgeTotal())
	}
	if err := l.CheckConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
}

// ============================================================================
// Test: conservation across a mixed round
// ============================================================================

func TestConservation_MixedRound(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	winner, loser, insured := uuid.New(), uuid.New(), uuid.New()
	l.LoadBalance(winner, 1000_00)
	l.LoadBalance(loser, 1000_00)
	l.LoadBalance(insured, 1000_00)

	l.DebitBet(ctx, winner, 100_00, 0)
	l.DebitBet(ctx, loser, 250_00, 0)
	l.DebitBet(ctx, insured, 100_00, 10_00)

	l.CreditWin(ctx, winner, 100_00, 150_00)
	l.SettleLoss(ctx, loser, 250_00, 0)
	l.SettleLoss(ctx, insured, 100_00, 50_00)

	if err := l.CheckConservation(); err != nil {
		t.Fatalf("conservation after a full round: %v", err)
	}
	if l.LockedTotal() != 0 {
		t.Errorf("no stakes should remain locked: %d", l.LockedTotal())
	}
	// -50 from the winner, +250 from the loser, +60 from the insured.
	if edge := l.EdgeTotal(); edge != 260_00 {
		t.Errorf("realized edge: got %d, want 260_00", edge)
	}
}

// ============================================================================
// Test: write-through degradation
// ============================================================================

type failingWriter struct{ calls int }

func (w *failingWriter) SaveBalance(ctx context.Context, userID uuid.UUID, balance int64) error {
	w.calls++
	return errors.New("store down")
}

func TestPersist_FailureKeepsInMemoryState(t *testing.T) {
	writer := &failingWriter{}
	l := ledger.New(writer, zerolog.Nop())
	userID := uuid.New()
	l.LoadBalance(userID, 1000_00)

	balance, err := l.DebitBet(context.Background(), userID, 100_00, 0)
	if err != nil {
		t.Fatalf("debit must survive a dead store: %v", err)
	}
	if balance != 900_00 {
		t.Errorf("in-memory balance: got %d, want 900_00", balance)
	}
	if writer.calls == 0 {
		t.Error("write-through was never attempted")
	}
}
