package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"CrashEngine/internal/ledger"
)

// BetStore persists bet rows and their optional insurance rows.
type BetStore struct {
	db *sql.DB
}

func NewBetStore(db *sql.DB) *BetStore {
	return &BetStore{db: db}
}

// Insert writes the bet and, when present, its insurance row in one
// transaction. The caller rolls back the balance debit if this fails, so
// a bet row never exists without the matching debit and vice versa.
func (s *BetStore) Insert(ctx context.Context, b *ledger.Bet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bet tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bets (id, round_id, user_id, amount, cashout_multiplier, status, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.RoundID, b.UserID, b.Amount, b.CashoutMultiplier, string(b.Status), b.PlacedAt,
	); err != nil {
		return fmt.Errorf("insert bet %s: %w", b.ID, err)
	}

	if b.Insurance != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bet_insurance (bet_id, type, premium, coverage_rate, coverage_amount, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			b.ID, string(b.Insurance.Type), b.Insurance.Premium, b.Insurance.CoverageRate,
			b.Insurance.CoverageAmount, string(b.Insurance.Status),
		); err != nil {
			return fmt.Errorf("insert insurance for bet %s: %w", b.ID, err)
		}
	}

	return tx.Commit()
}

// MarkWon records a successful cash-out.
func (s *BetStore) MarkWon(ctx context.Context, betID uuid.UUID, multiplier float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bets SET status = 'won', cashout_multiplier = $2, settled_at = $3 WHERE id = $1`,
		betID, multiplier, at,
	)
	if err != nil {
		return fmt.Errorf("mark bet %s won: %w", betID, err)
	}
	return nil
}

// ResultRow is one user's settled outcome for a round. The unique
// (user_id, round_id) key makes settlement writes idempotent.
type ResultRow struct {
	UserID   uuid.UUID
	RoundID  uuid.UUID
	BetID    uuid.UUID
	Result   string // "lost" or "won"
	Winnings int64  // insurance coverage for losses, payout for wins
}

// SettlementStore writes the per-round settlement batch.
type SettlementStore struct {
	db *sql.DB
}

func NewSettlementStore(db *sql.DB) *SettlementStore {
	return &SettlementStore{db: db}
}

// SettleBatch applies one round's settlement in a single transaction:
// bets flip to lost, results upsert idempotently, claimed insurance rows
// flip exactly once. Re-running the same batch is a no-op.
func (s *SettlementStore) SettleBatch(ctx context.Context, roundID uuid.UUID, results []ResultRow, claimedBets []uuid.UUID, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range results {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO round_results (user_id, round_id, bet_id, result, winnings, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, round_id) DO NOTHING`,
			r.UserID, r.RoundID, r.BetID, r.Result, r.Winnings, at,
		); err != nil {
			return fmt.Errorf("upsert result user=%s round=%s: %w", r.UserID, r.RoundID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE bets SET status = 'lost', settled_at = $2 WHERE id = $1 AND status = 'active'`,
			r.BetID, at,
		); err != nil {
			return fmt.Errorf("mark bet %s lost: %w", r.BetID, err)
		}
	}

	for _, betID := range claimedBets {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bet_insurance SET status = 'claimed' WHERE bet_id = $1 AND status = 'active'`,
			betID,
		); err != nil {
			return fmt.Errorf("claim insurance for bet %s: %w", betID, err)
		}
	}

	return tx.Commit()
}

// ResultExists reports whether a (user, round) outcome is already written.
func (s *SettlementStore) ResultExists(ctx context.Context, userID, roundID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM round_results WHERE user_id = $1 AND round_id = $2`,
		userID, roundID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
