package hedger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"dualdex-bot/internal/retry"
	"dualdex-bot/internal/state"
	"dualdex-bot/internal/venue"

	"go.uber.org/zap"
)

// venueOps is the shared machinery beneath the opener and the closer:
// two venue clients, the retry policies, the verifier, and the order-id
// persistence used for idempotent placement.
type venueOps struct {
	clients     map[string]venue.Client
	placePolicy retry.Policy
	closePolicy retry.Policy
	verifier    *Verifier
	store       state.Store
	stats       *Stats
	tolerance   float64
	log         *zap.Logger
}

func newVenueOps(clients []venue.Client, placePolicy, closePolicy retry.Policy, verifier *Verifier, store state.Store, stats *Stats, tolerance float64, log *zap.Logger) venueOps {
	byName := make(map[string]venue.Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	if stats == nil {
		stats = NewStats()
	}
	return venueOps{
		clients:     byName,
		placePolicy: placePolicy,
		closePolicy: closePolicy,
		verifier:    verifier,
		store:       store,
		stats:       stats,
		tolerance:   tolerance,
		log:         log,
	}
}

func (o *venueOps) client(name string) (venue.Client, error) {
	c, ok := o.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown venue %s", name)
	}
	return c, nil
}

// eachLeg runs fn for every leg concurrently and joins before
// returning. Each goroutine touches only its own leg.
func eachLeg(legs []*Leg, fn func(*Leg)) {
	var wg sync.WaitGroup
	for _, leg := range legs {
		if leg == nil {
			continue
		}
		wg.Add(1)
		go func(l *Leg) {
			defer wg.Done()
			fn(l)
		}(leg)
	}
	wg.Wait()
}

// placeLeg sizes and places one leg's order, persisting the order id
// under the cycle-scoped key so a replayed placement reuses it.
func (o *venueOps) placeLeg(ctx context.Context, cycle *Cycle, leg *Leg) error {
	client, err := o.client(leg.Venue)
	if err != nil {
		return o.failLeg(leg, err)
	}
	price, err := retry.DoValue(ctx, o.placePolicy, "mark price "+leg.Venue, func() (float64, error) {
		return client.MarkPrice(ctx, cycle.Symbol)
	})
	if err != nil {
		return o.failLeg(leg, err)
	}
	if price <= 0 {
		return o.failLeg(leg, venue.Terminal(leg.Venue, "mark price", fmt.Errorf("invalid price %.8f", price)))
	}
	leg.Size = cycle.Notional / price

	orderKey := fmt.Sprintf("order:%s:%s", cycle.ID, leg.Venue)
	if o.store != nil {
		if oid, ok, err := o.store.Get(ctx, orderKey); err == nil && ok {
			leg.OrderID = oid
			return nil
		}
	}
	res, err := retry.DoValue(ctx, o.placePolicy, "place "+leg.Venue, func() (venue.OrderResult, error) {
		return client.PlaceOrder(ctx, cycle.Symbol, leg.Side, leg.Size, leg.Leverage)
	})
	if err != nil {
		o.stats.RecordTrade(leg.Venue, false)
		return o.failLeg(leg, err)
	}
	leg.OrderID = res.OrderID
	if res.FilledSize > 0 {
		leg.FilledSize = res.FilledSize
	}
	if o.store != nil {
		if err := o.store.Set(ctx, orderKey, res.OrderID); err != nil {
			o.log.Warn("failed to persist order id", zap.String("venue", leg.Venue), zap.Error(err))
		}
	}
	o.stats.RecordTrade(leg.Venue, true)
	return nil
}

// confirmLeg verifies the leg's fill against the venue's reported
// position. A placement without a matching position is a failure.
func (o *venueOps) confirmLeg(ctx context.Context, cycle *Cycle, leg *Leg) error {
	client, err := o.client(leg.Venue)
	if err != nil {
		return o.failLeg(leg, err)
	}
	pos, err := o.verifier.WaitFor(ctx, client, cycle.Symbol, SizeNear(leg.Side, leg.Size, o.tolerance))
	if err != nil {
		o.stats.RecordVerifyFailure()
		return o.failLeg(leg, err)
	}
	leg.FilledSize = math.Abs(pos.Size)
	leg.Status = LegFilled
	o.stats.RecordOpened(leg.Venue)
	return nil
}

// issueClose brings one venue flat for symbol. Closing an already-flat
// position is a no-op success.
func (o *venueOps) issueClose(ctx context.Context, client venue.Client, symbol string) error {
	pos, err := retry.DoValue(ctx, o.closePolicy, "position "+client.Name(), func() (venue.Position, error) {
		return client.Position(ctx, symbol)
	})
	if err == nil && math.Abs(pos.Size) <= flatEpsilon {
		return nil
	}
	return o.closePolicy.Do(ctx, "close "+client.Name(), func() error {
		return client.ClosePosition(ctx, symbol)
	})
}

// settleLeg closes a leg and verifies the venue reports flat, retrying
// the close in isolation once if the first verification misses.
func (o *venueOps) settleLeg(ctx context.Context, symbol string, leg *Leg) error {
	client, err := o.client(leg.Venue)
	if err != nil {
		leg.Err = err
		return err
	}
	closeErr := o.issueClose(ctx, client, symbol)
	if _, err := o.verifier.WaitFor(ctx, client, symbol, Flat()); err == nil {
		leg.Status = LegClosed
		leg.Err = nil
		o.stats.RecordClosed(leg.Venue)
		return nil
	} else if closeErr == nil {
		closeErr = err
	}
	// Isolated second pass against this venue only.
	if err := o.issueClose(ctx, client, symbol); err != nil {
		o.recordFailureKind(err)
		leg.Err = err
		return err
	}
	if _, err := o.verifier.WaitFor(ctx, client, symbol, Flat()); err != nil {
		o.stats.RecordVerifyFailure()
		leg.Err = err
		return err
	}
	leg.Status = LegClosed
	leg.Err = nil
	o.stats.RecordClosed(leg.Venue)
	return nil
}

func (o *venueOps) failLeg(leg *Leg, err error) error {
	leg.Status = LegFailed
	leg.Err = err
	o.recordFailureKind(err)
	o.log.Warn("leg operation failed",
		zap.String("venue", leg.Venue),
		zap.String("side", string(leg.Side)),
		zap.Error(err),
	)
	return err
}

func (o *venueOps) recordFailureKind(err error) {
	switch {
	case retry.IsExhausted(err):
		o.stats.RecordExhausted()
	case venue.IsTerminal(err):
		o.stats.RecordTerminal()
	case IsVerificationFailed(err):
		// Counted where the verification ran.
	}
}
