package hedger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dualdex-bot/internal/retry"
	"dualdex-bot/internal/venue"

	"go.uber.org/zap"
)

// mockVenue tracks one symbol's position and lets tests fail individual
// operations. fillOnPlace controls whether a placed order shows up as a
// position, which is what the verifier polls for.
type mockVenue struct {
	mu   sync.Mutex
	name string

	price    float64
	priceErr error
	placeErr error
	closeErr error
	posErr   error

	fillOnPlace bool
	position    float64

	placeCalls int
	closeCalls int
}

func newMockVenue(name string, price float64) *mockVenue {
	return &mockVenue{name: name, price: price, fillOnPlace: true}
}

func (m *mockVenue) Name() string { return m.name }

func (m *mockVenue) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	_ = ctx
	_ = symbol
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priceErr != nil {
		return 0, m.priceErr
	}
	return m.price, nil
}

func (m *mockVenue) PlaceOrder(ctx context.Context, symbol string, side venue.Side, size, leverage float64) (venue.OrderResult, error) {
	_ = ctx
	_ = symbol
	_ = leverage
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeCalls++
	if m.placeErr != nil {
		return venue.OrderResult{}, m.placeErr
	}
	if m.fillOnPlace {
		if side == venue.Long {
			m.position = size
		} else {
			m.position = -size
		}
	}
	return venue.OrderResult{OrderID: fmt.Sprintf("%s-%d", m.name, m.placeCalls), FilledSize: size}, nil
}

func (m *mockVenue) Position(ctx context.Context, symbol string) (venue.Position, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.posErr != nil {
		return venue.Position{}, m.posErr
	}
	return venue.Position{Venue: m.name, Symbol: symbol, Size: m.position}, nil
}

func (m *mockVenue) ClosePosition(ctx context.Context, symbol string) error {
	_ = ctx
	_ = symbol
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	if m.closeErr != nil {
		return m.closeErr
	}
	m.position = 0
	return nil
}

func (m *mockVenue) size() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func testVerifier() *Verifier {
	return NewVerifier(testPolicy(), time.Millisecond, 2, time.Second, zap.NewNop())
}

func testCycle(longVenue, shortVenue string) *Cycle {
	return &Cycle{
		ID:       "cycle-test-001",
		Symbol:   "BTC",
		Notional: 1000,
		Legs: [2]*Leg{
			{Venue: longVenue, Side: venue.Long, Leverage: 5, Status: LegPending},
			{Venue: shortVenue, Side: venue.Short, Leverage: 5, Status: LegPending},
		},
	}
}
