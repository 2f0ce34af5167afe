package insurance

import (
	"fmt"

	"CrashEngine/internal/math"
)

// Type identifies an insurance tier.
type Type string

const (
	TypeNone     Type = ""
	TypeBasic    Type = "basic"
	TypePremium  Type = "premium"
	TypeComplete Type = "complete"
)

// Status of an insurance side-wager.
type Status string

const (
	StatusActive  Status = "active"
	StatusClaimed Status = "claimed"
)

// Tier defines the pricing of one insurance type: the premium charged up
// front and the share of the bet refunded if it loses, both as fractions
// of the bet amount in parts-per-million int64 fixed point.
type Tier struct {
	PremiumPPM  int64
	CoveragePPM int64
}

// Tiers maps insurance types to their pricing. Configuration, not policy:
// operators may override the table at startup.
type Tiers map[Type]Tier

// DefaultTiers returns the shipped tier table.
func DefaultTiers() Tiers {
	return Tiers{
		TypeBasic:    {PremiumPPM: 50_000, CoveragePPM: 300_000},  // 5% premium, 30% refund
		TypePremium:  {PremiumPPM: 100_000, CoveragePPM: 500_000}, // 10% premium, 50% refund
		TypeComplete: {PremiumPPM: 200_000, CoveragePPM: 800_000}, // 20% premium, 80% refund
	}
}

// Quote is the priced insurance for a concrete bet amount.
type Quote struct {
	Type           Type
	Premium        int64
	CoverageRate   float64
	CoverageAmount int64
}

// Price computes premium and coverage for a bet amount in minor units.
// Returns a zero quote for TypeNone.
func (t Tiers) Price(typ Type, amount int64) (Quote, error) {
	if typ == TypeNone {
		return Quote{}, nil
	}
	tier, ok := t[typ]
	if !ok {
		return Quote{}, fmt.Errorf("unknown insurance type %q", typ)
	}
	return Quote{
		Type:           typ,
		Premium:        math.ApplyPPM(amount, tier.PremiumPPM),
		CoverageRate:   math.PPMToFloat(tier.CoveragePPM),
		CoverageAmount: math.ApplyPPM(amount, tier.CoveragePPM),
	}, nil
}
