package hedger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"dualdex-bot/internal/retry"
	"dualdex-bot/internal/state"
	"dualdex-bot/internal/venue"

	"go.uber.org/zap"
)

// ErrFailedClose reports that at least one leg is still open after the
// close attempts. Unlike a failed open this is not fatal: the book is
// still hedged, and the orchestrator retries the close on recovery.
var ErrFailedClose = errors.New("close failed")

// Closer exits both legs of a cycle. Close issues the close orders;
// VerifyClosed confirms both venues report flat and re-closes any
// straggler in isolation.
type Closer struct {
	ops venueOps
}

func NewCloser(clients []venue.Client, closePolicy retry.Policy, verifier *Verifier, store state.Store, stats *Stats, log *zap.Logger) *Closer {
	return &Closer{ops: newVenueOps(clients, closePolicy, closePolicy, verifier, store, stats, 0, log)}
}

// Close issues a close for every filled leg concurrently. A leg whose
// venue already reports flat is marked closed without a new order, so
// re-running Close after a partial failure only touches what is still
// open.
func (c *Closer) Close(ctx context.Context, cycle *Cycle) {
	eachLeg(cycle.Legs[:], func(leg *Leg) {
		if leg.Status != LegFilled {
			return
		}
		client, err := c.ops.client(leg.Venue)
		if err != nil {
			leg.Err = err
			return
		}
		if err := c.ops.issueClose(ctx, client, cycle.Symbol); err != nil {
			leg.Err = err
			c.ops.recordFailureKind(err)
			c.ops.log.Warn("close order failed",
				zap.String("cycle", cycle.ID),
				zap.String("venue", leg.Venue),
				zap.Error(err),
			)
			return
		}
		c.ops.log.Info("close issued",
			zap.String("cycle", cycle.ID),
			zap.String("venue", leg.Venue),
			zap.String("side", string(leg.Side)),
		)
	})
}

// VerifyClosed confirms every leg is flat on its venue, issuing one
// more isolated close per straggler. Legs that settle clean are marked
// closed; anything still open after that rolls up into ErrFailedClose.
func (c *Closer) VerifyClosed(ctx context.Context, cycle *Cycle) error {
	eachLeg(cycle.Legs[:], func(leg *Leg) {
		if leg.Status != LegFilled {
			return
		}
		c.ops.settleLeg(ctx, cycle.Symbol, leg)
	})

	var open []string
	for _, leg := range cycle.Legs {
		if leg != nil && leg.Status == LegFilled {
			open = append(open, fmt.Sprintf("%s: %v", leg.Venue, leg.Err))
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("%w: %s", ErrFailedClose, strings.Join(open, "; "))
	}
	return nil
}

// CloseAll flattens symbol on every venue regardless of cycle state.
// Used for startup cleanup and for recovering a failed close when the
// cycle bookkeeping is no longer trustworthy.
func (c *Closer) CloseAll(ctx context.Context, symbols []string) error {
	var errs []error
	for _, client := range c.ops.clients {
		for _, symbol := range symbols {
			pos, err := retry.DoValue(ctx, c.ops.closePolicy, "position "+client.Name(), func() (venue.Position, error) {
				return client.Position(ctx, symbol)
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", client.Name(), symbol, err))
				continue
			}
			if math.Abs(pos.Size) <= flatEpsilon {
				continue
			}
			c.ops.log.Warn("found open position, closing",
				zap.String("venue", client.Name()),
				zap.String("symbol", symbol),
				zap.Float64("size", pos.Size),
			)
			if err := c.ops.issueClose(ctx, client, symbol); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", client.Name(), symbol, err))
				continue
			}
			if _, err := c.ops.verifier.WaitFor(ctx, client, symbol, Flat()); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", client.Name(), symbol, err))
			}
		}
	}
	return errors.Join(errs...)
}
