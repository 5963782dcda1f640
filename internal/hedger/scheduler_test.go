package hedger

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestSchedulerDrawsWithinBounds(t *testing.T) {
	s := NewScheduler(rand.New(rand.NewSource(1)),
		2*time.Minute, 5*time.Minute,
		30*time.Second, 120*time.Second,
	)
	for i := 0; i < 1000; i++ {
		if h := s.Hold(); h < 2*time.Minute || h > 5*time.Minute {
			t.Fatalf("hold %s outside [2m, 5m]", h)
		}
		if w := s.Cooldown(); w < 30*time.Second || w > 120*time.Second {
			t.Fatalf("cooldown %s outside [30s, 120s]", w)
		}
	}
}

func TestSchedulerDegenerateBounds(t *testing.T) {
	s := NewScheduler(rand.New(rand.NewSource(2)), time.Minute, time.Minute, 0, 0)
	if h := s.Hold(); h != time.Minute {
		t.Fatalf("expected fixed hold of 1m, got %s", h)
	}
	if w := s.Cooldown(); w != 0 {
		t.Fatalf("expected zero cooldown, got %s", w)
	}
}

func TestSleepInterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) {
		t.Fatal("sleep on a cancelled context should return false")
	}
	if !Sleep(context.Background(), time.Millisecond) {
		t.Fatal("completed sleep should return true")
	}
}
