package hedger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dualdex-bot/internal/retry"
	"dualdex-bot/internal/state"
	"dualdex-bot/internal/venue"

	"go.uber.org/zap"
)

// ErrFailedOpen reports that the entry could not be completed but the
// book is hedged: either no leg filled, or the surviving leg was
// unwound.
var ErrFailedOpen = errors.New("open failed")

// ErrUnhedged reports the one outcome the bot must never sit on: one
// leg is filled and the attempt to unwind it failed. The book carries
// net exposure and a human has to look at it.
var ErrUnhedged = errors.New("unhedged exposure")

const defaultSettleTimeout = 30 * time.Second

// Opener places both legs of a cycle and confirms the fills. Place and
// Confirm are split so the orchestrator can expose the verification
// window as its own state.
type Opener struct {
	ops           venueOps
	settleTimeout time.Duration
}

func NewOpener(clients []venue.Client, placePolicy, closePolicy retry.Policy, verifier *Verifier, store state.Store, stats *Stats, tolerance float64, settleTimeout time.Duration, log *zap.Logger) *Opener {
	if settleTimeout <= 0 {
		settleTimeout = defaultSettleTimeout
	}
	return &Opener{
		ops:           newVenueOps(clients, placePolicy, closePolicy, verifier, store, stats, tolerance, log),
		settleTimeout: settleTimeout,
	}
}

// Place submits both orders concurrently and returns the number that
// were accepted by a venue. Per-leg failures land in Leg.Err; a zero
// return means nothing went out and the book is still flat.
func (o *Opener) Place(ctx context.Context, cycle *Cycle) int {
	eachLeg(cycle.Legs[:], func(leg *Leg) {
		if err := o.ops.placeLeg(ctx, cycle, leg); err == nil {
			o.ops.log.Info("order placed",
				zap.String("cycle", cycle.ID),
				zap.String("venue", leg.Venue),
				zap.String("side", string(leg.Side)),
				zap.Float64("size", leg.Size),
				zap.String("order_id", leg.OrderID),
			)
		}
	})
	placed := 0
	for _, leg := range cycle.Legs {
		if leg.Status == LegPending && leg.OrderID != "" {
			placed++
		}
	}
	return placed
}

// Confirm verifies both placed legs filled. With exactly one fill it
// unwinds the survivor so no net exposure remains, returning
// ErrFailedOpen on a clean unwind and ErrUnhedged when the unwind
// itself fails.
func (o *Opener) Confirm(ctx context.Context, cycle *Cycle) error {
	eachLeg(cycle.Legs[:], func(leg *Leg) {
		if leg.Status != LegPending || leg.OrderID == "" {
			return
		}
		o.ops.confirmLeg(ctx, cycle, leg)
	})

	filled := cycle.filledLegs()
	if len(filled) == len(cycle.Legs) {
		return nil
	}

	// A shutdown mid-confirmation proves nothing about the venues: the
	// verifications died with the context, not with the fills. Settle
	// every placed leg on a detached context so cancellation cannot
	// strand exposure behind a spurious failure report.
	if ctx.Err() != nil {
		o.ops.log.Info("shutdown during fill confirmation, settling placed legs",
			zap.String("cycle", cycle.ID))
		settleCtx, cancel := context.WithTimeout(context.Background(), o.settleTimeout)
		defer cancel()
		return o.settlePlaced(settleCtx, cycle)
	}

	if len(filled) == 0 {
		return ErrFailedOpen
	}

	survivor := filled[0]
	o.ops.log.Warn("sibling leg failed, unwinding survivor",
		zap.String("cycle", cycle.ID),
		zap.String("venue", survivor.Venue),
		zap.String("side", string(survivor.Side)),
		zap.Float64("size", survivor.FilledSize),
	)
	err := o.ops.settleLeg(ctx, cycle.Symbol, survivor)
	if err != nil && ctx.Err() != nil {
		// Cancellation raced the unwind; retry it detached before
		// declaring exposure.
		settleCtx, cancel := context.WithTimeout(context.Background(), o.settleTimeout)
		defer cancel()
		err = o.ops.settleLeg(settleCtx, cycle.Symbol, survivor)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s %.8f: unwind: %v",
			ErrUnhedged, survivor.Venue, survivor.Side, survivor.FilledSize, err)
	}
	o.ops.log.Info("survivor unwound, book flat",
		zap.String("cycle", cycle.ID),
		zap.String("venue", survivor.Venue),
	)
	return ErrFailedOpen
}

// settlePlaced flattens every leg that reached a venue and reports
// ErrFailedOpen once the book is flat again, ErrUnhedged if any leg
// would not settle.
func (o *Opener) settlePlaced(ctx context.Context, cycle *Cycle) error {
	var stuck []string
	for _, leg := range cycle.Legs {
		if leg == nil || leg.OrderID == "" {
			continue
		}
		if err := o.ops.settleLeg(ctx, cycle.Symbol, leg); err != nil {
			stuck = append(stuck, fmt.Sprintf("%s %s: %v", leg.Venue, leg.Side, err))
		}
	}
	if len(stuck) > 0 {
		return fmt.Errorf("%w: %s", ErrUnhedged, strings.Join(stuck, "; "))
	}
	return ErrFailedOpen
}
