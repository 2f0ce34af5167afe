package fair_test

import (
	"testing"

	"CrashEngine/internal/fair"
)

// ============================================================================
// Test: Probability
// ============================================================================

func TestProbability_AtMediumWager(t *testing.T) {
	cfg := fair.DefaultConfig()

	p := fair.Probability(cfg, cfg.MediumWager)
	if p != cfg.BaseProb {
		t.Errorf("probability at the reference wager: got %v, want %v", p, cfg.BaseProb)
	}
}

func TestProbability_MonotoneInWager(t *testing.T) {
	cfg := fair.DefaultConfig()

	prev := fair.Probability(cfg, 0)
	for wager := int64(50_00); wager <= 500_00; wager += 50_00 {
		p := fair.Probability(cfg, wager)
		if p < prev {
			t.Fatalf("probability decreased: p(%d)=%v < %v", wager, p, prev)
		}
		prev = p
	}
}

func TestProbability_Clamped(t *testing.T) {
	cfg := fair.DefaultConfig()

	low := fair.Probability(cfg, 0)
	if low < cfg.MinProb {
		t.Errorf("probability below clamp: got %v, min %v", low, cfg.MinProb)
	}

	high := fair.Probability(cfg, 1_000_000_00)
	if high != cfg.MaxProb {
		t.Errorf("huge wager should hit the max clamp: got %v, want %v", high, cfg.MaxProb)
	}
}

// ============================================================================
// Test: CrashPoint / Verify
// ============================================================================

func TestCrashPoint_Deterministic(t *testing.T) {
	cfg := fair.DefaultConfig()

	a := fair.CrashPoint(cfg, "abc", "def", 1, 250_00)
	b := fair.CrashPoint(cfg, "abc", "def", 1, 250_00)
	if a != b {
		t.Errorf("same inputs produced different crash points: %v vs %v", a, b)
	}
}

func TestCrashPoint_SensitiveToEveryInput(t *testing.T) {
	cfg := fair.DefaultConfig()

	base := fair.CrashPoint(cfg, "abc", "def", 1, 0)

	if got := fair.CrashPoint(cfg, "abd", "def", 1, 0); got == base {
		t.Error("server seed change did not move the crash point")
	}
	if got := fair.CrashPoint(cfg, "abc", "deg", 1, 0); got == base {
		t.Error("client seed change did not move the crash point")
	}
	if got := fair.CrashPoint(cfg, "abc", "def", 2, 0); got == base {
		t.Error("nonce change did not move the crash point")
	}
}

func TestCrashPoint_WithinConfiguredRange(t *testing.T) {
	cfg := fair.DefaultConfig()

	for nonce := int64(1); nonce <= 2000; nonce++ {
		cp := fair.CrashPoint(cfg, "server-seed", "client-seed", nonce, 120_00)
		if cp < cfg.LowMin || cp >= cfg.HighMax {
			t.Fatalf("crash point out of range at nonce %d: %v not in [%v, %v)",
				nonce, cp, cfg.LowMin, cfg.HighMax)
		}
	}
}

func TestCrashPoint_HigherWagerSkewsLow(t *testing.T) {
	cfg := fair.DefaultConfig()

	// A larger aggregate raises p, so more of the r space maps into the
	// low range. Counted over many nonces the low share must not shrink.
	lowAtSmall, lowAtLarge := 0, 0
	for nonce := int64(1); nonce <= 3000; nonce++ {
		if fair.CrashPoint(cfg, "s", "c", nonce, 10_00) < cfg.LowMax {
			lowAtSmall++
		}
		if fair.CrashPoint(cfg, "s", "c", nonce, 500_00) < cfg.LowMax {
			lowAtLarge++
		}
	}
	if lowAtLarge < lowAtSmall {
		t.Errorf("large wager produced fewer low outcomes: %d vs %d", lowAtLarge, lowAtSmall)
	}
}

func TestVerify_MatchesCrashPoint(t *testing.T) {
	cfg := fair.DefaultConfig()

	cp := fair.CrashPoint(cfg, "abc", "def", 7, 42_00)
	v := fair.Verify(cfg, "abc", "def", 7, 42_00)
	if v != cp {
		t.Errorf("verification diverged from derivation: %v vs %v", v, cp)
	}
}

func TestUniform_HalfOpenUnitInterval(t *testing.T) {
	for nonce := int64(1); nonce <= 2000; nonce++ {
		r := fair.Uniform("abc", "def", nonce)
		if r < 0 || r >= 1 {
			t.Fatalf("uniform out of [0,1) at nonce %d: %v", nonce, r)
		}
	}
}

// ============================================================================
// Test: Config validation
// ============================================================================

func TestConfigValidate_Default(t *testing.T) {
	if err := fair.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fair.Config)
	}{
		{"inverted low range", func(c *fair.Config) { c.LowMax = c.LowMin - 1 }},
		{"high below low", func(c *fair.Config) { c.HighMin = c.LowMax - 0.5 }},
		{"clamp above one", func(c *fair.Config) { c.MaxProb = 1.0 }},
		{"base outside clamp", func(c *fair.Config) { c.BaseProb = c.MaxProb + 0.01 }},
		{"zero medium wager", func(c *fair.Config) { c.MediumWager = 0 }},
		{"negative sensitivity", func(c *fair.Config) { c.Sensitivity = -0.1 }},
	}
	for _, tc := range cases {
		cfg := fair.DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}

// ============================================================================
// Test: Seeds
// ============================================================================

func TestSeedHash_Stable(t *testing.T) {
	seed, err := fair.NewServerSeed()
	if err != nil {
		t.Fatalf("server seed: %v", err)
	}
	if len(seed) != 64 {
		t.Errorf("server seed should be 64 hex chars, got %d", len(seed))
	}
	if fair.SeedHash(seed) != fair.SeedHash(seed) {
		t.Error("seed hash is not stable")
	}
}

func TestNewServerSeed_Unique(t *testing.T) {
	a, _ := fair.NewServerSeed()
	b, _ := fair.NewServerSeed()
	if a == b {
		t.Error("two server seeds collided")
	}
}
