package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoundRow mirrors the rounds table. server_seed is stored immediately but
// the read path only exposes it to callers after the round has crashed.
type RoundRow struct {
	ID         uuid.UUID
	ServerSeed string
	SeedHash   string
	ClientSeed string
	Nonce      int64
	CrashPoint float64
	FinalWager int64
	State      string
	StartedAt  time.Time
	EndedAt    *time.Time

	// NeedsReconciliation is set when settlement exhausted its retries and
	// an operator has to reconcile the round by hand.
	NeedsReconciliation bool
}

// RoundStore persists round lifecycle rows.
type RoundStore struct {
	db *sql.DB
}

func NewRoundStore(db *sql.DB) *RoundStore {
	return &RoundStore{db: db}
}

// Insert writes a freshly created round in its waiting state.
func (s *RoundStore) Insert(ctx context.Context, r RoundRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rounds (id, server_seed, seed_hash, client_seed, nonce, crash_point, final_wager, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.ServerSeed, r.SeedHash, r.ClientSeed, r.Nonce, r.CrashPoint, r.FinalWager, r.State, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert round %s: %w", r.ID, err)
	}
	return nil
}

// Freeze records the final crash point and aggregate wager at the moment
// the round leaves the waiting phase. The crash point never changes after
// this write.
func (s *RoundStore) Freeze(ctx context.Context, id uuid.UUID, crashPoint float64, finalWager int64, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rounds SET crash_point = $2, final_wager = $3, state = 'running', started_at = $4
		WHERE id = $1`,
		id, crashPoint, finalWager, startedAt,
	)
	if err != nil {
		return fmt.Errorf("freeze round %s: %w", id, err)
	}
	return nil
}

// SetState advances the persisted round state; endedAt is recorded for
// terminal states.
func (s *RoundStore) SetState(ctx context.Context, id uuid.UUID, state string, endedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rounds SET state = $2, ended_at = COALESCE($3, ended_at) WHERE id = $1`,
		id, state, endedAt,
	)
	if err != nil {
		return fmt.Errorf("set round %s state %s: %w", id, state, err)
	}
	return nil
}

// MarkReconciliation flags a round whose settlement exhausted its retries.
func (s *RoundStore) MarkReconciliation(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rounds SET needs_reconciliation = TRUE WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("mark round %s for reconciliation: %w", id, err)
	}
	return nil
}

// Get loads one round.
func (s *RoundStore) Get(ctx context.Context, id uuid.UUID) (RoundRow, error) {
	var r RoundRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, server_seed, seed_hash, client_seed, nonce, crash_point, final_wager, state, started_at, ended_at, needs_reconciliation
		FROM rounds WHERE id = $1`, id,
	).Scan(&r.ID, &r.ServerSeed, &r.SeedHash, &r.ClientSeed, &r.Nonce, &r.CrashPoint, &r.FinalWager, &r.State, &r.StartedAt, &r.EndedAt, &r.NeedsReconciliation)
	if err != nil {
		return RoundRow{}, fmt.Errorf("get round %s: %w", id, err)
	}
	return r, nil
}

// NextNonce returns one past the highest nonce ever persisted, keeping
// the nonce monotonic across engine restarts.
func (s *RoundStore) NextNonce(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(nonce), 0) + 1 FROM rounds`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next nonce: %w", err)
	}
	return next, nil
}

// FinalWagerForSeeds resolves the recorded aggregate wager for a seed
// triple. Serves the verify command: only crashed/archived rounds ever
// match because the server seed is what the verifier supplies post-reveal.
func (s *RoundStore) FinalWagerForSeeds(ctx context.Context, serverSeed, clientSeed string, nonce int64) (int64, error) {
	var wager int64
	err := s.db.QueryRowContext(ctx, `
		SELECT final_wager FROM rounds
		WHERE server_seed = $1 AND client_seed = $2 AND nonce = $3 AND state IN ('crashed', 'results', 'archived')`,
		serverSeed, clientSeed, nonce,
	).Scan(&wager)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no revealed round for seed triple nonce=%d", nonce)
	}
	if err != nil {
		return 0, fmt.Errorf("final wager lookup: %w", err)
	}
	return wager, nil
}
