package hedger

import (
	"math/rand"

	"dualdex-bot/internal/venue"
)

// maxExposureFraction caps any single cycle's notional at this share of
// account balance, regardless of the percentage draw.
const maxExposureFraction = 0.8

// Assignment maps the two venues to their sides for one cycle.
type Assignment struct {
	LongVenue  string
	ShortVenue string
}

// Assigner draws a fresh side assignment per cycle from an injected
// random source. Draws are independent: no state carries across cycles.
type Assigner struct {
	rng *rand.Rand
}

func NewAssigner(rng *rand.Rand) *Assigner {
	return &Assigner{rng: rng}
}

func (a *Assigner) Assign(venueA, venueB string) Assignment {
	if a.rng.Intn(2) == 0 {
		return Assignment{LongVenue: venueA, ShortVenue: venueB}
	}
	return Assignment{LongVenue: venueB, ShortVenue: venueA}
}

func (a *Assigner) Symbol(pairs []string) string {
	return pairs[a.rng.Intn(len(pairs))]
}

func (asg Assignment) SideFor(venueName string) venue.Side {
	if venueName == asg.LongVenue {
		return venue.Long
	}
	return venue.Short
}

// Sizer derives each cycle's target notional from one percentage draw
// over the account balance, so both legs target the same dollar size.
type Sizer struct {
	rng        *rand.Rand
	balance    float64
	minPercent float64
	maxPercent float64
	leverage   map[string]float64
}

func NewSizer(rng *rand.Rand, balance, minPercent, maxPercent float64, leverage map[string]float64) *Sizer {
	return &Sizer{
		rng:        rng,
		balance:    balance,
		minPercent: minPercent,
		maxPercent: maxPercent,
		leverage:   leverage,
	}
}

// Notional draws a risk percentage in [min, max] over the account
// balance, capped by the exposure limit. Leverage affects margin, not
// the target notional.
func (s *Sizer) Notional() float64 {
	percent := s.minPercent + s.rng.Float64()*(s.maxPercent-s.minPercent)
	notional := percent / 100 * s.balance
	if limit := maxExposureFraction * s.balance; notional > limit {
		notional = limit
	}
	return notional
}

func (s *Sizer) Leverage(symbol string) float64 {
	if lev, ok := s.leverage[symbol]; ok && lev > 0 {
		return lev
	}
	return 1
}
