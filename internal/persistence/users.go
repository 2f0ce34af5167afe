package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// UserStore persists authoritative user balances. It implements
// ledger.BalanceWriter for the write-through path.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// SaveBalance upserts a user's balance in minor units.
func (s *UserStore) SaveBalance(ctx context.Context, userID uuid.UUID, balance int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance`,
		userID, balance,
	)
	if err != nil {
		return fmt.Errorf("save balance user=%s: %w", userID, err)
	}
	return nil
}

// GetBalance reads one user's balance.
func (s *UserStore) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE id = $1`, userID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance user=%s: %w", userID, err)
	}
	return balance, nil
}

// ListBalances streams every balance row, used to warm the in-memory
// ledger at startup.
func (s *UserStore) ListBalances(ctx context.Context) (map[uuid.UUID]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, balance FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var balance int64
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, err
		}
		balances[id] = balance
	}
	return balances, rows.Err()
}
