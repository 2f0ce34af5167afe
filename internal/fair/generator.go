package fair

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
)

// Config holds every tunable of the crash-point derivation. The source
// deployments ran with materially different parameter sets, so none of
// these are constants: operators load them from the environment.
type Config struct {
	// Low outcome range, chosen with probability p (e.g. 1.00x–3.00x).
	LowMin float64
	LowMax float64
	// High outcome range, chosen with probability 1-p (e.g. 3.00x–7.00x).
	HighMin float64
	HighMax float64

	// Crash-probability clamp.
	MinProb float64
	MaxProb float64

	// BaseProb is the crash probability at the medium-wager reference point.
	BaseProb float64

	// MediumWager is the aggregate-wager reference in minor units. Rounds
	// wagered above it crash more often, below it less, never past the clamp.
	MediumWager int64

	// Sensitivity scales how fast probability moves per MediumWager of
	// aggregate distance from the reference.
	Sensitivity float64
}

// DefaultConfig returns the low-variant parameter set. Defaults only;
// production values come from the environment.
func DefaultConfig() Config {
	return Config{
		LowMin:      1.00,
		LowMax:      3.00,
		HighMin:     3.00,
		HighMax:     7.00,
		MinProb:     0.60,
		MaxProb:     0.99,
		BaseProb:    0.85,
		MediumWager: 100_00, // 100.00 in minor units
		Sensitivity: 0.05,
	}
}

// Validate rejects configurations that would make the derivation
// nonsensical (inverted ranges, probability clamp outside (0,1)).
func (c Config) Validate() error {
	if c.LowMin <= 0 || c.LowMax < c.LowMin {
		return fmt.Errorf("invalid low range [%v, %v]", c.LowMin, c.LowMax)
	}
	if c.HighMin < c.LowMax || c.HighMax < c.HighMin {
		return fmt.Errorf("invalid high range [%v, %v]", c.HighMin, c.HighMax)
	}
	if c.MinProb <= 0 || c.MaxProb >= 1 || c.MinProb > c.MaxProb {
		return fmt.Errorf("invalid probability clamp [%v, %v]", c.MinProb, c.MaxProb)
	}
	if c.BaseProb < c.MinProb || c.BaseProb > c.MaxProb {
		return fmt.Errorf("base probability %v outside clamp [%v, %v]", c.BaseProb, c.MinProb, c.MaxProb)
	}
	if c.MediumWager <= 0 {
		return fmt.Errorf("medium wager must be positive, got %d", c.MediumWager)
	}
	if c.Sensitivity < 0 {
		return fmt.Errorf("sensitivity must be non-negative, got %v", c.Sensitivity)
	}
	return nil
}

// Probability maps the aggregate active wager to a crash probability.
// Monotone non-decreasing in aggregateWager, clamped to [MinProb, MaxProb].
func Probability(cfg Config, aggregateWager int64) float64 {
	distance := float64(aggregateWager-cfg.MediumWager) / float64(cfg.MediumWager)
	p := cfg.BaseProb + cfg.Sensitivity*distance

	if p < cfg.MinProb {
		return cfg.MinProb
	}
	if p > cfg.MaxProb {
		return cfg.MaxProb
	}
	return p
}

// Uniform derives r in [0,1) from the seed triple. SHA-256 over the
// concatenation serverSeed || clientSeed || decimal(nonce); the top 53
// bits of the first 8 hash bytes keep the value exact in a float64.
func Uniform(serverSeed, clientSeed string, nonce int64) float64 {
	sum := sha256.Sum256([]byte(serverSeed + clientSeed + strconv.FormatInt(nonce, 10)))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u>>11) / float64(1<<53)
}

// CrashPoint derives the crash multiplier for a round. Pure: the same
// inputs always produce the same bits, which is the provably-fair contract.
// aggregateWager is an explicit input, never engine state, so verification
// replays exactly what the engine computed.
func CrashPoint(cfg Config, serverSeed, clientSeed string, nonce, aggregateWager int64) float64 {
	r := Uniform(serverSeed, clientSeed, nonce)
	p := Probability(cfg, aggregateWager)

	if r < p {
		return cfg.LowMin + (r/p)*(cfg.LowMax-cfg.LowMin)
	}
	return cfg.HighMin + ((r-p)/(1-p))*(cfg.HighMax-cfg.HighMin)
}

// Verify is the player-facing verification entry point. It is the same
// computation as CrashPoint under the same config; a separate name keeps
// the public contract explicit.
func Verify(cfg Config, serverSeed, clientSeed string, nonce, aggregateWager int64) float64 {
	return CrashPoint(cfg, serverSeed, clientSeed, nonce, aggregateWager)
}
