package core

import (
	"time"

	"github.com/google/uuid"

	"CrashEngine/internal/ledger"
)

// Phase is the round lifecycle state.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseRunning Phase = "running"
	PhaseCrashed Phase = "crashed"
	PhaseResults Phase = "results"
)

// Round is the single authoritative round. All fields are owned by the
// engine and only touched under its lock; crashPoint is immutable once
// the phase leaves waiting.
type Round struct {
	ID         uuid.UUID
	ServerSeed string // secret until the results phase
	SeedHash   string
	ClientSeed string
	Nonce      int64

	CrashPoint float64
	FinalWager int64 // aggregate wager at the freeze, recorded for verification

	Phase      Phase
	Multiplier float64
	StartedAt  time.Time
	EndedAt    *time.Time

	// Degraded marks a round that could not be persisted and lives only
	// in memory.
	Degraded bool

	// bets holds the active-bet set, keyed by user: at most one active
	// bet per user per round.
	bets map[uuid.UUID]*ledger.Bet

	// aggregate is the sum of active stakes, the input to the
	// crash-probability function while still waiting.
	aggregate int64
}

// ActiveBets returns a point-in-time copy of the active-bet set.
func (r *Round) ActiveBets() []*ledger.Bet {
	out := make([]*ledger.Bet, 0, len(r.bets))
	for _, b := range r.bets {
		out = append(out, b)
	}
	return out
}

// Exposure is the liability if every active bet cashed out at the
// current multiplier, in minor units.
func (r *Round) Exposure() int64 {
	return int64(float64(r.aggregate) * r.Multiplier)
}
