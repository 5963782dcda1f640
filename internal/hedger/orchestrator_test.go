package hedger

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dualdex-bot/internal/venue"

	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	alerts  []string
	records []CycleRecord
}

func (r *recordingSink) Send(ctx context.Context, message string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, message)
	return nil
}

func (r *recordingSink) Record(ctx context.Context, rec CycleRecord) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingSink) alertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func (r *recordingSink) firstRecord() (CycleRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return CycleRecord{}, false
	}
	return r.records[0], true
}

func newTestOrchestrator(a, b *mockVenue, sink *recordingSink, hold time.Duration, maxRestarts int) *Orchestrator {
	rng := rand.New(rand.NewSource(7))
	clients := []venue.Client{a, b}
	stats := NewStats()
	opener := NewOpener(clients, testPolicy(), testPolicy(), testVerifier(), nil, stats, 0.02, 5*time.Second, zap.NewNop())
	closer := NewCloser(clients, testPolicy(), testVerifier(), nil, stats, zap.NewNop())
	return NewOrchestrator(OrchestratorOptions{
		VenueA:           a,
		VenueB:           b,
		Assigner:         NewAssigner(rng),
		Sizer:            NewSizer(rng, 1000, 50, 80, map[string]float64{"BTC": 5}),
		Scheduler:        NewScheduler(rng, hold, hold, time.Millisecond, time.Millisecond),
		Opener:           opener,
		Closer:           closer,
		Stats:            stats,
		Alerter:          sink,
		Recorder:         sink,
		Log:              zap.NewNop(),
		Pairs:            []string{"BTC"},
		MaxCycleRestarts: maxRestarts,
		ShutdownTimeout:  5 * time.Second,
		RetryPolicy:      testPolicy(),
	})
}

func TestOrchestratorRunsCyclesUntilCancelled(t *testing.T) {
	a := newMockVenue("a", 100)
	b := newMockVenue("b", 100)
	sink := &recordingSink{}
	orch := newTestOrchestrator(a, b, sink, 50*time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	// Cancel during a hold so the shutdown path owns the final close.
	deadline := time.After(5 * time.Second)
	for {
		if orch.Stats().SuccessfulCycles >= 2 && orch.State() == StateHolding {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for cycles to complete")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := orch.Stats()
	if snap.SuccessfulCycles < 2 {
		t.Fatalf("expected at least 2 successful cycles, got %d", snap.SuccessfulCycles)
	}
	if snap.FailedCycles != 0 {
		t.Fatalf("expected no failed cycles, got %d", snap.FailedCycles)
	}
	if orch.State() != StateShutdown {
		t.Fatalf("expected %s after cancel, got %s", StateShutdown, orch.State())
	}
	if a.size() != 0 || b.size() != 0 {
		t.Fatalf("expected both venues flat, got %.4f and %.4f", a.size(), b.size())
	}
	rec, ok := sink.firstRecord()
	if !ok {
		t.Fatal("expected at least one cycle record")
	}
	if rec.Outcome != OutcomeSuccess || rec.Symbol != "BTC" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LongVenue == rec.ShortVenue {
		t.Fatalf("record must name distinct venues per side: %+v", rec)
	}
}

func TestOrchestratorClosesLegsOnShutdownDuringHold(t *testing.T) {
	a := newMockVenue("a", 100)
	b := newMockVenue("b", 100)
	orch := newTestOrchestrator(a, b, &recordingSink{}, time.Hour, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for orch.State() != StateHolding {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the hold")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.size() != 0 || b.size() != 0 {
		t.Fatalf("shutdown left positions open: %.4f and %.4f", a.size(), b.size())
	}
}

func TestOrchestratorStopsAfterRestartBudget(t *testing.T) {
	a := newMockVenue("a", 100)
	b := newMockVenue("b", 100)
	a.placeErr = venue.Terminal("a", "place order", errors.New("rejected"))
	b.placeErr = venue.Terminal("b", "place order", errors.New("rejected"))
	sink := &recordingSink{}
	orch := newTestOrchestrator(a, b, sink, time.Millisecond, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := orch.Run(ctx)
	if err == nil {
		t.Fatal("expected restart budget error")
	}
	if !strings.Contains(err.Error(), "restart budget exhausted") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(err, ErrFailedOpen) {
		t.Fatalf("budget error should wrap the open failure: %v", err)
	}
	if got := orch.Stats().FailedCycles; got != 2 {
		t.Fatalf("expected 2 failed cycles, got %d", got)
	}
	if sink.alertCount() == 0 {
		t.Fatal("expected failure alerts")
	}
}

func TestOrchestratorHaltsOnUnhedgedExposure(t *testing.T) {
	a := newMockVenue("a", 100)
	b := newMockVenue("b", 100)
	b.placeErr = venue.Terminal("b", "place order", errors.New("rejected"))
	a.closeErr = venue.Retryable("a", "close", errors.New("venue down"))
	sink := &recordingSink{}
	orch := newTestOrchestrator(a, b, sink, time.Millisecond, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := orch.Run(ctx)
	if !errors.Is(err, ErrUnhedged) {
		t.Fatalf("expected ErrUnhedged, got %v", err)
	}
	if orch.State() != StateUnhedged {
		t.Fatalf("expected %s, got %s", StateUnhedged, orch.State())
	}
	found := false
	sink.mu.Lock()
	for _, msg := range sink.alerts {
		if strings.Contains(msg, "CRITICAL") {
			found = true
		}
	}
	sink.mu.Unlock()
	if !found {
		t.Fatal("expected a critical alert")
	}
}

// flakyPositionVenue fails the first n position reads with a retryable
// error, then behaves like the wrapped venue.
type flakyPositionVenue struct {
	*mockVenue
	failures int32
}

func (f *flakyPositionVenue) Position(ctx context.Context, symbol string) (venue.Position, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return venue.Position{}, venue.Retryable(f.name, "position", errors.New("gateway timeout"))
	}
	return f.mockVenue.Position(ctx, symbol)
}

func TestOrchestratorStartupVerifyRetriesTransientErrors(t *testing.T) {
	a := &flakyPositionVenue{mockVenue: newMockVenue("a", 100), failures: 1}
	b := newMockVenue("b", 100)
	orch := NewOrchestrator(OrchestratorOptions{
		VenueA:      a,
		VenueB:      b,
		Pairs:       []string{"BTC"},
		RetryPolicy: testPolicy(),
	})

	if err := orch.startupVerify(context.Background()); err != nil {
		t.Fatalf("one transient blip must not abort startup: %v", err)
	}
}

func TestOrchestratorRefusesDirtyStartup(t *testing.T) {
	a := newMockVenue("a", 100)
	b := newMockVenue("b", 100)
	a.position = 1.5
	orch := newTestOrchestrator(a, b, &recordingSink{}, time.Millisecond, 3)

	err := orch.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "close_on_start") {
		t.Fatalf("expected a dirty-book startup error, got %v", err)
	}
}

func TestOrchestratorCloseOnStartFlattens(t *testing.T) {
	a := newMockVenue("a", 100)
	b := newMockVenue("b", 100)
	a.position = 1.5
	orch := newTestOrchestrator(a, b, &recordingSink{}, time.Millisecond, 3)
	orch.closeOnStart = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for orch.Stats().SuccessfulCycles < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the first cycle")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrchestratorPauseBlocksNewCycles(t *testing.T) {
	a := newMockVenue("a", 100)
	b := newMockVenue("b", 100)
	orch := newTestOrchestrator(a, b, &recordingSink{}, time.Millisecond, 3)
	orch.Pause()
	if !orch.Paused() {
		t.Fatal("expected paused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if got := orch.Stats().TotalCycles; got != 0 {
		t.Fatalf("paused orchestrator ran %d cycles", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
