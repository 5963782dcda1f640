package hedger

import (
	"math/rand"
	"testing"

	"dualdex-bot/internal/venue"
)

func TestAssignerIsRoughlyUniform(t *testing.T) {
	assigner := NewAssigner(rand.New(rand.NewSource(1)))
	const draws = 10000
	longA := 0
	for i := 0; i < draws; i++ {
		if assigner.Assign("a", "b").LongVenue == "a" {
			longA++
		}
	}
	frac := float64(longA) / draws
	if frac < 0.45 || frac > 0.55 {
		t.Fatalf("expected long-A fraction near 0.5, got %.3f", frac)
	}
}

func TestAssignerSymbolDrawsFromPairs(t *testing.T) {
	assigner := NewAssigner(rand.New(rand.NewSource(2)))
	pairs := []string{"BTC", "ETH", "SOL"}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		sym := assigner.Symbol(pairs)
		seen[sym] = true
		found := false
		for _, p := range pairs {
			if p == sym {
				found = true
			}
		}
		if !found {
			t.Fatalf("drew symbol %q outside pairs", sym)
		}
	}
	if len(seen) != len(pairs) {
		t.Fatalf("expected all %d pairs drawn over 100 tries, got %d", len(pairs), len(seen))
	}
}

func TestAssignmentSideFor(t *testing.T) {
	asg := Assignment{LongVenue: "a", ShortVenue: "b"}
	if asg.SideFor("a") != venue.Long {
		t.Fatal("venue a should be long")
	}
	if asg.SideFor("b") != venue.Short {
		t.Fatal("venue b should be short")
	}
}

func TestSizerNotionalStaysInRange(t *testing.T) {
	// Leverage sets margin, never the target notional.
	leverage := map[string]float64{"BTC": 5}
	sizer := NewSizer(rand.New(rand.NewSource(3)), 1000, 50, 80, leverage)
	for i := 0; i < 1000; i++ {
		n := sizer.Notional()
		if n < 500 || n > 800 {
			t.Fatalf("notional %.2f outside [500, 800]", n)
		}
	}
}

func TestSizerCapsExposure(t *testing.T) {
	leverage := map[string]float64{"BTC": 5}
	sizer := NewSizer(rand.New(rand.NewSource(4)), 1000, 90, 100, leverage)
	limit := maxExposureFraction * 1000
	for i := 0; i < 1000; i++ {
		if n := sizer.Notional(); n > limit {
			t.Fatalf("notional %.2f exceeds exposure cap %.2f", n, limit)
		}
	}
}

func TestSizerLeverageDefaultsToOne(t *testing.T) {
	sizer := NewSizer(rand.New(rand.NewSource(5)), 1000, 50, 50, nil)
	if lev := sizer.Leverage("DOGE"); lev != 1 {
		t.Fatalf("expected default leverage 1, got %.2f", lev)
	}
}
