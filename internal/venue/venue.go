package venue

import "context"

// Side is the direction of a leg on a venue.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// OrderResult reports a placed order.
type OrderResult struct {
	OrderID    string
	FilledSize float64
}

// Position is a read-only snapshot reported by a venue. Size is signed:
// positive long, negative short.
type Position struct {
	Venue      string
	Symbol     string
	Size       float64
	EntryPrice float64
}

// Client is the capability the core consumes per venue. Implementations
// live outside the core and classify their failures with Retryable or
// Terminal so the retry policy can decide.
type Client interface {
	Name() string
	PlaceOrder(ctx context.Context, symbol string, side Side, size, leverage float64) (OrderResult, error)
	Position(ctx context.Context, symbol string) (Position, error)
	ClosePosition(ctx context.Context, symbol string) error
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}
