package query

import (
	"time"

	"github.com/google/uuid"
)

// RoundSummary is one finished round as served to clients. ServerSeed is
// only populated for rounds that reached the results reveal, so history
// entries are always independently verifiable.
type RoundSummary struct {
	RoundID    uuid.UUID  `json:"round_id"`
	SeedHash   string     `json:"seed_hash"`
	ServerSeed string     `json:"server_seed,omitempty"`
	ClientSeed string     `json:"client_seed"`
	Nonce      int64      `json:"nonce"`
	CrashPoint float64    `json:"crash_point"`
	FinalWager int64      `json:"final_wager"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// UserResult is one settled bet outcome for a user.
type UserResult struct {
	RoundID    uuid.UUID `json:"round_id"`
	BetID      uuid.UUID `json:"bet_id"`
	Result     string    `json:"result"`
	Winnings   int64     `json:"winnings"`
	Amount     int64     `json:"amount"`
	CrashPoint float64   `json:"crash_point"`
	SettledAt  time.Time `json:"settled_at"`
}
