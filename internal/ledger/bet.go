package ledger

import (
	"time"

	"github.com/google/uuid"

	"CrashEngine/internal/insurance"
)

// BetStatus is the lifecycle state of a bet.
type BetStatus string

const (
	BetStatusActive BetStatus = "active"
	BetStatusWon    BetStatus = "won"
	BetStatusLost   BetStatus = "lost"
)

// Bet is one user's wager in one round. A user holds at most one active
// Bet per round.
type Bet struct {
	ID                uuid.UUID
	RoundID           uuid.UUID
	UserID            uuid.UUID
	Amount            int64 // minor units
	CashoutMultiplier *float64
	Status            BetStatus
	Insurance         *BetInsurance
	PlacedAt          time.Time
}

// BetInsurance is the optional side-wager attached to a bet.
type BetInsurance struct {
	Type           insurance.Type
	Premium        int64
	CoverageRate   float64
	CoverageAmount int64
	Status         insurance.Status
}

// Insured reports whether the bet carries a still-active insurance.
func (b *Bet) Insured() bool {
	return b.Insurance != nil && b.Insurance.Status == insurance.StatusActive
}
