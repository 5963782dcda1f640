package hedger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dualdex-bot/internal/retry"
	"dualdex-bot/internal/venue"

	"go.uber.org/zap"
)

// flatEpsilon is the absolute size below which a position counts as
// closed; venues report dust residue well under this.
const flatEpsilon = 1e-6

// Predicate is an expectation about a venue-reported position.
type Predicate struct {
	Name string
	OK   func(venue.Position) bool
}

// SizeNear expects a position of the given side whose absolute size is
// within a relative tolerance of target. Venue lot rounding makes exact
// matches unrealistic.
func SizeNear(side venue.Side, target, tolerance float64) Predicate {
	return Predicate{
		Name: fmt.Sprintf("size≈%.6f %s", target, side),
		OK: func(pos venue.Position) bool {
			if target <= 0 {
				return false
			}
			if side == venue.Long && pos.Size <= 0 {
				return false
			}
			if side == venue.Short && pos.Size >= 0 {
				return false
			}
			return math.Abs(math.Abs(pos.Size)-target) <= target*tolerance
		},
	}
}

// Flat expects no position.
func Flat() Predicate {
	return Predicate{
		Name: "flat",
		OK: func(pos venue.Position) bool {
			return math.Abs(pos.Size) <= flatEpsilon
		},
	}
}

// VerificationError reports that a venue never reached the expected
// position within the attempt/time budget. Last holds the final
// observed mismatch.
type VerificationError struct {
	Venue  string
	Symbol string
	Want   string
	Last   venue.Position
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: verification (%s) failed: %v", e.Venue, e.Symbol, e.Want, e.Err)
	}
	return fmt.Sprintf("%s %s: verification (%s) failed: last observed size %.8f", e.Venue, e.Symbol, e.Want, e.Last.Size)
}

func (e *VerificationError) Unwrap() error { return e.Err }

func IsVerificationFailed(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

// Verifier polls a venue's reported position until a predicate holds.
// Order placement success is never trusted as confirmation; only an
// observed position is.
type Verifier struct {
	policy   retry.Policy
	interval time.Duration
	attempts int
	timeout  time.Duration
	log      *zap.Logger
}

func NewVerifier(policy retry.Policy, interval time.Duration, attempts int, timeout time.Duration, log *zap.Logger) *Verifier {
	if attempts < 1 {
		attempts = 1
	}
	return &Verifier{policy: policy, interval: interval, attempts: attempts, timeout: timeout, log: log}
}

// WaitFor polls client's position for symbol through the retry policy
// until pred holds or the attempt/time budget runs out. The returned
// position is the one that satisfied pred.
func (v *Verifier) WaitFor(ctx context.Context, client venue.Client, symbol string, pred Predicate) (venue.Position, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	var last venue.Position
	var lastErr error
	for attempt := 0; attempt < v.attempts; attempt++ {
		pos, err := retry.DoValue(ctx, v.policy, "position "+client.Name(), func() (venue.Position, error) {
			return client.Position(ctx, symbol)
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		} else {
			last = pos
			lastErr = nil
			if pred.OK(pos) {
				return pos, nil
			}
			v.log.Debug("position mismatch",
				zap.String("venue", client.Name()),
				zap.String("symbol", symbol),
				zap.String("want", pred.Name),
				zap.Float64("observed_size", pos.Size),
				zap.Int("attempt", attempt+1),
			)
		}
		if attempt == v.attempts-1 {
			break
		}
		if !Sleep(ctx, v.interval) {
			break
		}
	}
	return last, &VerificationError{
		Venue:  client.Name(),
		Symbol: symbol,
		Want:   pred.Name,
		Last:   last,
		Err:    lastErr,
	}
}
