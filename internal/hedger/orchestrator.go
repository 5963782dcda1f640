package hedger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dualdex-bot/internal/metrics"
	"dualdex-bot/internal/retry"
	"dualdex-bot/internal/state"
	"dualdex-bot/internal/venue"

	"go.uber.org/zap"
)

// Alerter pushes operator-facing notifications. Alert failures are
// logged and swallowed; they never change the trading flow.
type Alerter interface {
	Send(ctx context.Context, message string) error
}

// Recorder receives finished cycles for history sinks.
type Recorder interface {
	Record(ctx context.Context, rec CycleRecord) error
}

type noopAlerter struct{}

func (noopAlerter) Send(context.Context, string) error { return nil }

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, CycleRecord) error { return nil }

// OrchestratorOptions wires the orchestrator's collaborators. VenueA,
// VenueB, Assigner, Sizer, Scheduler, Opener and Closer are required;
// nil optional fields fall back to no-ops.
type OrchestratorOptions struct {
	VenueA    venue.Client
	VenueB    venue.Client
	Assigner  *Assigner
	Sizer     *Sizer
	Scheduler *Scheduler
	Opener    *Opener
	Closer    *Closer

	Stats    *Stats
	Store    state.Store
	Alerter  Alerter
	Recorder Recorder
	Metrics  *metrics.Metrics
	Log      *zap.Logger

	Pairs            []string
	MaxCycleRestarts int
	ShutdownTimeout  time.Duration
	CloseOnStart     bool

	// RetryPolicy wraps the orchestrator's own venue reads (startup
	// verification). The opener and closer carry their own policies.
	RetryPolicy retry.Policy
}

// Orchestrator runs the open → hold → close loop. One cycle is live at
// a time; the state machine tracks where in the cycle the bot is and
// the restart budget bounds how many consecutive failed cycles it
// tolerates before giving up.
type Orchestrator struct {
	venueA    venue.Client
	venueB    venue.Client
	assigner  *Assigner
	sizer     *Sizer
	scheduler *Scheduler
	opener    *Opener
	closer    *Closer

	machine  *StateMachine
	stats    *Stats
	store    state.Store
	alerter  Alerter
	recorder Recorder
	metrics  *metrics.Metrics
	log      *zap.Logger

	pairs           []string
	maxRestarts     int
	shutdownTimeout time.Duration
	closeOnStart    bool
	retryPolicy     retry.Policy

	paused   atomic.Bool
	cycleSeq atomic.Int64

	mu      sync.Mutex
	current *Cycle
}

// StatusSnapshot is the operator-facing view of the orchestrator.
type StatusSnapshot struct {
	State   State
	Paused  bool
	CycleID string
	Symbol  string
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	if opts.Alerter == nil {
		opts.Alerter = noopAlerter{}
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.MaxCycleRestarts < 1 {
		opts.MaxCycleRestarts = 1
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		venueA:          opts.VenueA,
		venueB:          opts.VenueB,
		assigner:        opts.Assigner,
		sizer:           opts.Sizer,
		scheduler:       opts.Scheduler,
		opener:          opts.Opener,
		closer:          opts.Closer,
		machine:         NewStateMachine(),
		stats:           opts.Stats,
		store:           opts.Store,
		alerter:         opts.Alerter,
		recorder:        opts.Recorder,
		metrics:         opts.Metrics,
		log:             opts.Log,
		pairs:           opts.Pairs,
		maxRestarts:     opts.MaxCycleRestarts,
		shutdownTimeout: opts.ShutdownTimeout,
		closeOnStart:    opts.CloseOnStart,
		retryPolicy:     opts.RetryPolicy,
	}
}

func (o *Orchestrator) State() State { return o.machine.State() }

func (o *Orchestrator) Pause()  { o.paused.Store(true) }
func (o *Orchestrator) Resume() { o.paused.Store(false) }

func (o *Orchestrator) Paused() bool { return o.paused.Load() }

func (o *Orchestrator) Stats() StatsSnapshot { return o.stats.Snapshot() }

func (o *Orchestrator) Status() StatusSnapshot {
	s := StatusSnapshot{State: o.machine.State(), Paused: o.paused.Load()}
	o.mu.Lock()
	if o.current != nil {
		s.CycleID = o.current.ID
		s.Symbol = o.current.Symbol
	}
	o.mu.Unlock()
	return s
}

// Run drives cycles until ctx is cancelled, the restart budget is
// spent, or the book goes unhedged. A cancellation during HOLDING
// closes both legs on a detached timeout context before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator starting",
		zap.String("venue_a", o.venueA.Name()),
		zap.String("venue_b", o.venueB.Name()),
		zap.Strings("pairs", o.pairs),
	)
	if err := o.startupVerify(ctx); err != nil {
		return fmt.Errorf("startup verify: %w", err)
	}
	o.transition(ctx, EventFlatConfirmed, nil)

	consecutiveFailures := 0
	for {
		if ctx.Err() != nil {
			return o.finish(ctx)
		}
		if o.paused.Load() {
			if !Sleep(ctx, time.Second) {
				return o.finish(ctx)
			}
			continue
		}

		cycle := o.newCycle()
		o.setCurrent(cycle)
		err := o.runCycle(ctx, cycle)
		finalState := o.machine.State()

		switch {
		case err == nil && ctx.Err() != nil:
			cycle.Outcome = OutcomeAborted
		case err == nil:
			cycle.Outcome = OutcomeSuccess
		default:
			cycle.Outcome = OutcomeFailed
		}
		o.stats.RecordCycle(cycle.Outcome)
		o.record(ctx, cycle, finalState)

		switch {
		case errors.Is(err, ErrUnhedged):
			o.metrics.CyclesFailed.Inc()
			o.metrics.UnhedgedAlerts.Inc()
			o.alert(ctx, fmt.Sprintf("CRITICAL: unhedged exposure on cycle %s (%s): %v — trading halted, manual intervention required",
				cycle.ID, cycle.Symbol, err))
			o.log.Error("unhedged exposure, halting", zap.String("cycle", cycle.ID), zap.Error(err))
			return err
		case errors.Is(err, ErrFailedOpen):
			o.metrics.CyclesFailed.Inc()
			o.metrics.OpenFailures.Inc()
			consecutiveFailures++
			o.alert(ctx, fmt.Sprintf("open failed on cycle %s (%s), book flat, failure %d/%d",
				cycle.ID, cycle.Symbol, consecutiveFailures, o.maxRestarts))
			if consecutiveFailures >= o.maxRestarts {
				return fmt.Errorf("restart budget exhausted after %d consecutive failures: %w", consecutiveFailures, err)
			}
			o.transition(ctx, EventRecovered, cycle)
		case errors.Is(err, ErrFailedClose):
			o.metrics.CyclesFailed.Inc()
			o.metrics.CloseFailures.Inc()
			consecutiveFailures++
			o.alert(ctx, fmt.Sprintf("close failed on cycle %s (%s): %v — recovering", cycle.ID, cycle.Symbol, err))
			if rerr := o.recoverClose(ctx, cycle.Symbol); rerr != nil {
				o.alert(ctx, fmt.Sprintf("CRITICAL: could not flatten %s after failed close: %v — trading halted", cycle.Symbol, rerr))
				return fmt.Errorf("close recovery: %w", rerr)
			}
			if consecutiveFailures >= o.maxRestarts {
				return fmt.Errorf("restart budget exhausted after %d consecutive failures: %w", consecutiveFailures, err)
			}
			o.transition(ctx, EventRecovered, cycle)
		case err != nil:
			// runCycle only fails through the sentinels above.
			o.metrics.CyclesFailed.Inc()
			return err
		default:
			o.metrics.CyclesCompleted.Inc()
			consecutiveFailures = 0
		}

		if ctx.Err() != nil {
			return o.finish(ctx)
		}
		cooldown := o.scheduler.Cooldown()
		o.log.Info("cooldown", zap.Duration("duration", cooldown))
		if !Sleep(ctx, cooldown) {
			return o.finish(ctx)
		}
		o.transition(ctx, EventCooldownDone, nil)
	}
}

// startupVerify refuses to trade over a dirty book. With close_on_start
// the bot flattens whatever it finds; otherwise any open position on
// either venue aborts startup.
func (o *Orchestrator) startupVerify(ctx context.Context) error {
	if o.closeOnStart {
		o.log.Info("startup: closing any open positions")
		return o.closer.CloseAll(ctx, o.pairs)
	}
	for _, client := range []venue.Client{o.venueA, o.venueB} {
		for _, symbol := range o.pairs {
			pos, err := retry.DoValue(ctx, o.retryPolicy, "position "+client.Name(), func() (venue.Position, error) {
				return client.Position(ctx, symbol)
			})
			if err != nil {
				return fmt.Errorf("%s %s: %w", client.Name(), symbol, err)
			}
			if pos.Size != 0 {
				return fmt.Errorf("%s has open %s position of size %.8f; close it or enable close_on_start",
					client.Name(), symbol, pos.Size)
			}
		}
	}
	return nil
}

func (o *Orchestrator) runCycle(ctx context.Context, cycle *Cycle) error {
	o.log.Info("cycle starting",
		zap.String("cycle", cycle.ID),
		zap.String("symbol", cycle.Symbol),
		zap.String("long_venue", cycle.Legs[0].Venue),
		zap.String("short_venue", cycle.Legs[1].Venue),
		zap.Float64("notional", cycle.Notional),
	)

	placed := o.opener.Place(ctx, cycle)
	for i := 0; i < placed; i++ {
		o.metrics.OrdersPlaced.Inc()
	}
	for i := 0; i < len(cycle.Legs)-placed; i++ {
		o.metrics.OrdersFailed.Inc()
	}
	if placed == 0 {
		o.transition(ctx, EventOpenFailed, cycle)
		return ErrFailedOpen
	}
	o.transition(ctx, EventOrdersPlaced, cycle)

	err := o.opener.Confirm(ctx, cycle)
	if errors.Is(err, ErrUnhedged) {
		o.transition(ctx, EventUnhedged, cycle)
		return err
	}
	if err != nil {
		if cycle.unwound() {
			o.metrics.Unwinds.Inc()
		}
		o.transition(ctx, EventOpenFailed, cycle)
		return err
	}
	o.transition(ctx, EventLegsFilled, cycle)

	hold := o.scheduler.Hold()
	o.log.Info("holding", zap.String("cycle", cycle.ID), zap.Duration("duration", hold))
	if !Sleep(ctx, hold) {
		// Shutdown mid-hold: close both legs on a detached context so
		// cancellation cannot strand an open hedge.
		o.log.Info("shutdown during hold, closing positions", zap.String("cycle", cycle.ID))
		o.transition(ctx, EventShutdown, cycle)
		closeCtx, cancel := context.WithTimeout(context.Background(), o.shutdownTimeout)
		defer cancel()
		return o.closeCycle(closeCtx, cycle)
	}
	o.transition(ctx, EventHoldDone, cycle)

	return o.closeCycle(ctx, cycle)
}

func (o *Orchestrator) closeCycle(ctx context.Context, cycle *Cycle) error {
	o.closer.Close(ctx, cycle)
	o.transition(ctx, EventClosesIssued, cycle)
	if err := o.closer.VerifyClosed(ctx, cycle); err != nil {
		o.transition(ctx, EventCloseFailed, cycle)
		return err
	}
	o.transition(ctx, EventLegsClosed, cycle)
	return nil
}

// recoverClose keeps trying to flatten symbol on both venues, one pass
// per restart budget slot with a cooldown between passes.
func (o *Orchestrator) recoverClose(ctx context.Context, symbol string) error {
	recoverCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		recoverCtx, cancel = context.WithTimeout(context.Background(), o.shutdownTimeout)
		defer cancel()
	}
	var err error
	for attempt := 1; attempt <= o.maxRestarts; attempt++ {
		if err = o.closer.CloseAll(recoverCtx, []string{symbol}); err == nil {
			o.log.Info("close recovery succeeded", zap.String("symbol", symbol), zap.Int("attempt", attempt))
			return nil
		}
		o.log.Warn("close recovery pass failed",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < o.maxRestarts && !Sleep(recoverCtx, o.scheduler.Cooldown()) {
			break
		}
	}
	return err
}

func (o *Orchestrator) newCycle() *Cycle {
	symbol := o.assigner.Symbol(o.pairs)
	assignment := o.assigner.Assign(o.venueA.Name(), o.venueB.Name())
	notional := o.sizer.Notional()
	leverage := o.sizer.Leverage(symbol)
	seq := o.cycleSeq.Add(1)
	cycle := &Cycle{
		ID:        fmt.Sprintf("cycle-%d-%03d", time.Now().Unix(), seq),
		Symbol:    symbol,
		StartedAt: time.Now().UTC(),
		Notional:  notional,
	}
	cycle.Legs[0] = &Leg{
		Venue:    assignment.LongVenue,
		Side:     venue.Long,
		Leverage: leverage,
		Status:   LegPending,
	}
	cycle.Legs[1] = &Leg{
		Venue:    assignment.ShortVenue,
		Side:     venue.Short,
		Leverage: leverage,
		Status:   LegPending,
	}
	return cycle
}

func (o *Orchestrator) setCurrent(cycle *Cycle) {
	o.mu.Lock()
	o.current = cycle
	o.mu.Unlock()
}

func (o *Orchestrator) transition(ctx context.Context, event Event, cycle *Cycle) State {
	st := o.machine.Apply(event)
	fields := []zap.Field{
		zap.String("event", string(event)),
		zap.String("state", string(st)),
	}
	if cycle != nil {
		fields = append(fields, zap.String("cycle", cycle.ID))
	}
	o.log.Info("state transition", fields...)
	o.saveSnapshot(ctx, cycle, st)
	return st
}

func (o *Orchestrator) saveSnapshot(ctx context.Context, cycle *Cycle, st State) {
	if o.store == nil {
		return
	}
	snap := state.CycleSnapshot{
		State:       string(st),
		UpdatedAtMS: time.Now().UnixMilli(),
	}
	if cycle != nil {
		snap.CycleID = cycle.ID
		snap.Symbol = cycle.Symbol
		snap.Notional = cycle.Notional
		for _, leg := range cycle.Legs {
			if leg == nil {
				continue
			}
			if leg.Side == venue.Long {
				snap.LongVenue = leg.Venue
			} else {
				snap.ShortVenue = leg.Venue
			}
		}
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := state.SaveCycleSnapshot(ctx, o.store, snap); err != nil {
		o.log.Warn("failed to persist cycle snapshot", zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, cycle *Cycle, finalState State) {
	rec := CycleRecord{
		ID:         cycle.ID,
		Symbol:     cycle.Symbol,
		Notional:   cycle.Notional,
		Outcome:    cycle.Outcome,
		FinalState: finalState,
		StartedAt:  cycle.StartedAt,
		EndedAt:    time.Now().UTC(),
	}
	for _, leg := range cycle.Legs {
		if leg == nil {
			continue
		}
		if leg.Side == venue.Long {
			rec.LongVenue = leg.Venue
		} else {
			rec.ShortVenue = leg.Venue
		}
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := o.recorder.Record(ctx, rec); err != nil {
		o.log.Warn("failed to record cycle", zap.String("cycle", cycle.ID), zap.Error(err))
	}
}

func (o *Orchestrator) alert(ctx context.Context, message string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	alertCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := o.alerter.Send(alertCtx, message); err != nil {
		o.log.Warn("alert delivery failed", zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context) error {
	o.transition(ctx, EventShutdown, nil)
	snap := o.stats.Snapshot()
	o.log.Info("orchestrator stopped",
		zap.Int("total_cycles", snap.TotalCycles),
		zap.Int("successful_cycles", snap.SuccessfulCycles),
		zap.Int("failed_cycles", snap.FailedCycles),
	)
	return nil
}
