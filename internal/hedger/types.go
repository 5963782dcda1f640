package hedger

import (
	"time"

	"dualdex-bot/internal/venue"
)

type LegStatus string

const (
	LegPending LegStatus = "pending"
	LegFilled  LegStatus = "filled"
	LegFailed  LegStatus = "failed"
	LegClosed  LegStatus = "closed"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeAborted Outcome = "aborted"
)

// Leg is one venue's half of a cycle. Fields are written by at most one
// goroutine at a time: the per-venue task during open/close, the
// orchestrator otherwise.
type Leg struct {
	Venue      string
	Side       venue.Side
	Size       float64
	Leverage   float64
	OrderID    string
	FilledSize float64
	Status     LegStatus
	Err        error
}

// Cycle is one open→hold→close iteration. Exactly one cycle is active
// per orchestrator.
type Cycle struct {
	ID        string
	Symbol    string
	StartedAt time.Time
	Notional  float64
	Legs      [2]*Leg
	Outcome   Outcome
}

func (c *Cycle) Leg(venueName string) *Leg {
	for _, leg := range c.Legs {
		if leg != nil && leg.Venue == venueName {
			return leg
		}
	}
	return nil
}

// unwound reports whether any leg was closed before the cycle reached
// a hold, i.e. a survivor was flattened after its sibling failed.
func (c *Cycle) unwound() bool {
	for _, leg := range c.Legs {
		if leg != nil && leg.Status == LegClosed {
			return true
		}
	}
	return false
}

func (c *Cycle) filledLegs() []*Leg {
	var out []*Leg
	for _, leg := range c.Legs {
		if leg != nil && leg.Status == LegFilled {
			out = append(out, leg)
		}
	}
	return out
}

// CycleRecord summarizes a finished cycle for history sinks.
type CycleRecord struct {
	ID         string
	Symbol     string
	LongVenue  string
	ShortVenue string
	Notional   float64
	Outcome    Outcome
	FinalState State
	StartedAt  time.Time
	EndedAt    time.Time
}
