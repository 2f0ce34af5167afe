package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService serves read-only round and result history straight from
// the game tables. History only covers rounds whose server seed is
// already public; the live round is served from the engine snapshot and
// the cache, never from here.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

const maxHistoryLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// RoundHistory returns the most recent revealed rounds, newest first.
func (qs *QueryService) RoundHistory(ctx context.Context, limit int) ([]RoundSummary, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT id, seed_hash, server_seed, client_seed, nonce, crash_point,
		       final_wager, state, started_at, ended_at
		FROM rounds
		WHERE state IN ('results', 'archived')
		ORDER BY nonce DESC
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query round history: %w", err)
	}
	defer rows.Close()

	var out []RoundSummary
	for rows.Next() {
		var r RoundSummary
		if err := rows.Scan(&r.RoundID, &r.SeedHash, &r.ServerSeed, &r.ClientSeed,
			&r.Nonce, &r.CrashPoint, &r.FinalWager, &r.State, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UserResults returns a user's settled outcomes, newest first. Losses
// come from round_results, cash-outs from the won rows of the bets table.
func (qs *QueryService) UserResults(ctx context.Context, userID uuid.UUID, limit int) ([]UserResult, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT rr.round_id, rr.bet_id, rr.result, rr.winnings, b.amount,
		       r.crash_point, rr.settled_at
		FROM round_results rr
		JOIN bets b ON b.id = rr.bet_id
		JOIN rounds r ON r.id = rr.round_id
		WHERE rr.user_id = $1
		UNION ALL
		SELECT b.round_id, b.id, b.status, CAST(b.amount * b.cashout_multiplier AS BIGINT),
		       b.amount, r.crash_point, b.settled_at
		FROM bets b
		JOIN rounds r ON r.id = b.round_id
		WHERE b.user_id = $1 AND b.status = 'won'
		ORDER BY settled_at DESC
		LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query user results: %w", err)
	}
	defer rows.Close()

	var out []UserResult
	for rows.Next() {
		var r UserResult
		if err := rows.Scan(&r.RoundID, &r.BetID, &r.Result, &r.Winnings,
			&r.Amount, &r.CrashPoint, &r.SettledAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
