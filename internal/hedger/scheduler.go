package hedger

import (
	"context"
	"math/rand"
	"time"
)

// Scheduler draws the random hold and cooldown durations for a cycle.
// Both draws are uniform over their configured inclusive bounds.
type Scheduler struct {
	rng     *rand.Rand
	minHold time.Duration
	maxHold time.Duration
	minWait time.Duration
	maxWait time.Duration
}

func NewScheduler(rng *rand.Rand, minHold, maxHold, minWait, maxWait time.Duration) *Scheduler {
	return &Scheduler{
		rng:     rng,
		minHold: minHold,
		maxHold: maxHold,
		minWait: minWait,
		maxWait: maxWait,
	}
}

func (s *Scheduler) Hold() time.Duration {
	return s.drawBetween(s.minHold, s.maxHold)
}

func (s *Scheduler) Cooldown() time.Duration {
	return s.drawBetween(s.minWait, s.maxWait)
}

func (s *Scheduler) drawBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)+1))
}

// Sleep waits for d or until ctx is cancelled. It returns true if the
// full duration elapsed, false when interrupted.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
