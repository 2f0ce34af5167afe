package insurance_test

import (
	"testing"

	"CrashEngine/internal/insurance"
)

func TestPrice_None(t *testing.T) {
	tiers := insurance.DefaultTiers()

	quote, err := tiers.Price(insurance.TypeNone, 100_00)
	if err != nil {
		t.Fatalf("pricing no insurance: %v", err)
	}
	if quote.Premium != 0 || quote.CoverageAmount != 0 {
		t.Errorf("no insurance must cost nothing: %+v", quote)
	}
}

func TestPrice_Tiers(t *testing.T) {
	tiers := insurance.DefaultTiers()

	cases := []struct {
		typ      insurance.Type
		amount   int64
		premium  int64
		coverage int64
	}{
		{insurance.TypeBasic, 100_00, 5_00, 30_00},
		{insurance.TypePremium, 100_00, 10_00, 50_00},
		{insurance.TypeComplete, 100_00, 20_00, 80_00},
		{insurance.TypeBasic, 1_00, 5, 30},
	}
	for _, tc := range cases {
		quote, err := tiers.Price(tc.typ, tc.amount)
		if err != nil {
			t.Fatalf("%s: %v", tc.typ, err)
		}
		if quote.Premium != tc.premium {
			t.Errorf("%s premium on %d: got %d, want %d", tc.typ, tc.amount, quote.Premium, tc.premium)
		}
		if quote.CoverageAmount != tc.coverage {
			t.Errorf("%s coverage on %d: got %d, want %d", tc.typ, tc.amount, quote.CoverageAmount, tc.coverage)
		}
	}
}

func TestPrice_UnknownType(t *testing.T) {
	tiers := insurance.DefaultTiers()

	if _, err := tiers.Price(insurance.Type("platinum"), 100_00); err == nil {
		t.Error("unknown tier should be rejected")
	}
}
