package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BalanceWriter persists post-mutation balances. Failures never fail the
// mutation itself: the in-memory balance is authoritative for the running
// engine, the store is write-through and retried by its implementation.
type BalanceWriter interface {
	SaveBalance(ctx context.Context, userID uuid.UUID, balance int64) error
}

// Ledger owns every user balance. All mutations serialize per user, and
// each mutation is a single atomic unit: the balance, the locked-wager
// total and the realized-edge total move together or not at all.
//
// Conservation invariant, checked by CheckConservation:
//
//	totalDebits - totalCredits == lockedTotal + edgeTotal
type Ledger struct {
	mu       sync.Mutex
	userLock map[uuid.UUID]*sync.Mutex
	balances map[uuid.UUID]int64

	// Conservation counters, guarded by mu.
	totalDebits  int64
	totalCredits int64
	lockedTotal  int64 // stakes of currently-active bets
	edgeTotal    int64 // operator's realized edge since genesis

	writer BalanceWriter
	log    zerolog.Logger
}

func New(writer BalanceWriter, log zerolog.Logger) *Ledger {
	return &Ledger{
		userLock: make(map[uuid.UUID]*sync.Mutex),
		balances: make(map[uuid.UUID]int64),
		writer:   writer,
		log:      log,
	}
}

// lockFor returns the per-user mutex, creating it on first use.
func (l *Ledger) lockFor(userID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.userLock[userID]
	if !ok {
		m = &sync.Mutex{}
		l.userLock[userID] = m
	}
	return m
}

// Balance returns the current balance for a user.
func (l *Ledger) Balance(userID uuid.UUID) int64 {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// LoadBalance seeds a user balance without touching the conservation
// counters. Used at startup when balances are restored from the store,
// and for deposits arriving from the external payment collaborators.
func (l *Ledger) LoadBalance(userID uuid.UUID, balance int64) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}

// DebitBet atomically takes stake+premium from the user. The stake joins
// the locked total, the premium is realized edge immediately. Returns the
// post-debit balance.
func (l *Ledger) DebitBet(ctx context.Context, userID uuid.UUID, stake, premium int64) (int64, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	total := stake + premium

	l.mu.Lock()
	balance := l.balances[userID]
	if balance < total {
		l.mu.Unlock()
		return balance, fmt.Errorf("%w: have=%d need=%d", ErrInsufficientBalance, balance, total)
	}
	balance -= total
	l.balances[userID] = balance
	l.totalDebits += total
	l.lockedTotal += stake
	l.edgeTotal += premium
	l.mu.Unlock()

	l.persist(ctx, userID, balance)
	return balance, nil
}

// CreditWin pays a cashed-out bet: winnings are credited, the original
// stake leaves the locked total, and the edge absorbs the difference
// (negative when the player wins more than they staked).
func (l *Ledger) CreditWin(ctx context.Context, userID uuid.UUID, stake, winnings int64) (int64, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	balance := l.balances[userID] + winnings
	l.balances[userID] = balance
	l.totalCredits += winnings
	l.lockedTotal -= stake
	l.edgeTotal += stake - winnings
	l.mu.Unlock()

	l.persist(ctx, userID, balance)
	return balance, nil
}

// SettleLoss realizes a crashed bet: the stake becomes edge, minus any
// insurance coverage credited back to the user. coverage is zero for
// uninsured bets.
func (l *Ledger) SettleLoss(ctx context.Context, userID uuid.UUID, stake, coverage int64) (int64, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	balance := l.balances[userID] + coverage
	l.balances[userID] = balance
	l.totalCredits += coverage
	l.lockedTotal -= stake
	l.edgeTotal += stake - coverage
	l.mu.Unlock()

	l.persist(ctx, userID, balance)
	return balance, nil
}

// RefundBet rolls back a debit that could not complete its atomic unit
// (bet row insert failed). Exact inverse of DebitBet.
func (l *Ledger) RefundBet(ctx context.Context, userID uuid.UUID, stake, premium int64) int64 {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	total := stake + premium

	l.mu.Lock()
	balance := l.balances[userID] + total
	l.balances[userID] = balance
	l.totalCredits += total
	l.lockedTotal -= stake
	l.edgeTotal -= premium
	l.mu.Unlock()

	l.persist(ctx, userID, balance)
	return balance
}

// CheckConservation verifies no money was created or destroyed:
// every debited minor unit is either still locked in an active bet or
// realized as operator edge (credits already left both pools).
func (l *Ledger) CheckConservation() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	net := l.totalDebits - l.totalCredits
	if net != l.lockedTotal+l.edgeTotal {
		return fmt.Errorf("conservation violated: debits-credits=%d locked=%d edge=%d",
			net, l.lockedTotal, l.edgeTotal)
	}
	return nil
}

// LockedTotal returns the sum of currently-locked stakes.
func (l *Ledger) LockedTotal() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lockedTotal
}

// EdgeTotal returns the operator's realized edge since genesis.
func (l *Ledger) EdgeTotal() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.edgeTotal
}

// persist write-throughs the balance. Store failure degrades to
// memory-only operation rather than failing the user-facing call.
func (l *Ledger) persist(ctx context.Context, userID uuid.UUID, balance int64) {
	if l.writer == nil {
		return
	}
	if err := l.writer.SaveBalance(ctx, userID, balance); err != nil {
		l.log.Warn().Err(err).Stringer("user_id", userID).
			Msg("balance write-through failed, continuing in-memory")
	}
}
