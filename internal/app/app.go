package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"dualdex-bot/internal/alerts"
	"dualdex-bot/internal/config"
	"dualdex-bot/internal/hedger"
	"dualdex-bot/internal/metrics"
	"dualdex-bot/internal/retry"
	"dualdex-bot/internal/state"
	"dualdex-bot/internal/state/sqlite"
	"dualdex-bot/internal/timescale"
	"dualdex-bot/internal/venue"
	"dualdex-bot/internal/venue/lighter"
	"dualdex-bot/internal/venue/pacifica"

	"go.uber.org/zap"
)

// Extra attempts granted to close-side retries on top of the configured
// policy. Leaving a leg open is worse than a slow exit, so closes get a
// deeper budget than opens.
const closeExtraAttempts = 2

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	lighter   *lighter.Client
	pacifica  *pacifica.Client
	feed      *pacifica.PriceFeed
	orch      *hedger.Orchestrator
	stats     *hedger.Stats
	alerts    *alerts.Telegram
	prom      *metrics.Prometheus
	timescale *timescale.Writer

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	lighterKey := strings.TrimSpace(os.Getenv("LIGHTER_API_KEY_PRIVATE_KEY"))
	if lighterKey == "" {
		return nil, errors.New("LIGHTER_API_KEY_PRIVATE_KEY is required")
	}
	pacificaKey := strings.TrimSpace(os.Getenv("PACIFICA_PRIVATE_KEY"))
	if pacificaKey == "" {
		return nil, errors.New("PACIFICA_PRIVATE_KEY is required")
	}
	lighterCfg := cfg.Lighter
	if v := strings.TrimSpace(os.Getenv("LIGHTER_ACCOUNT_INDEX")); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LIGHTER_ACCOUNT_INDEX %q: %w", v, err)
		}
		lighterCfg.AccountIndex = idx
	}
	if v := strings.TrimSpace(os.Getenv("LIGHTER_API_KEY_INDEX")); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LIGHTER_API_KEY_INDEX %q: %w", v, err)
		}
		lighterCfg.APIKeyIndex = idx
	}

	lighterClient, err := lighter.New(lighterCfg, lighterKey, cfg.Trading.Slippage, log)
	if err != nil {
		return nil, fmt.Errorf("lighter client: %w", err)
	}
	feed := pacifica.NewPriceFeed(cfg.Pacifica.WSURL, log)
	pacificaClient, err := pacifica.New(cfg.Pacifica, pacificaKey, cfg.Trading.Slippage, feed, log)
	if err != nil {
		return nil, fmt.Errorf("pacifica client: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	assigner := hedger.NewAssigner(rng)
	sizer := hedger.NewSizer(rng,
		cfg.Trading.AccountBalance,
		cfg.Trading.MinPositionPercent,
		cfg.Trading.MaxPositionPercent,
		cfg.Trading.Leverage,
	)
	scheduler := hedger.NewScheduler(rng,
		cfg.Trading.MinHold, cfg.Trading.MaxHold,
		cfg.Trading.MinCycleWait, cfg.Trading.MaxCycleWait,
	)

	placePolicy := retry.FromConfig(cfg.Retry)
	closePolicy := placePolicy
	closePolicy.MaxAttempts += closeExtraAttempts

	verifier := hedger.NewVerifier(placePolicy, cfg.Verify.Interval, cfg.Verify.Attempts, cfg.Verify.Timeout, log)
	stats := hedger.NewStats()
	clients := []venue.Client{lighterClient, pacificaClient}
	opener := hedger.NewOpener(clients, placePolicy, closePolicy, verifier, store, stats, cfg.Verify.SizeTolerance, cfg.Orchestrator.ShutdownTimeout, log)
	closer := hedger.NewCloser(clients, closePolicy, verifier, store, stats, log)

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, fmt.Errorf("timescale: %w", err)
	}

	alertsClient := alerts.NewTelegram(cfg.Telegram, log)

	orch := hedger.NewOrchestrator(hedger.OrchestratorOptions{
		VenueA:           lighterClient,
		VenueB:           pacificaClient,
		Assigner:         assigner,
		Sizer:            sizer,
		Scheduler:        scheduler,
		Opener:           opener,
		Closer:           closer,
		Stats:            stats,
		Store:            store,
		Alerter:          alertsClient,
		Recorder:         tsWriter,
		Metrics:          m,
		Log:              log,
		Pairs:            cfg.Trading.Pairs,
		MaxCycleRestarts: cfg.Orchestrator.MaxCycleRestarts,
		ShutdownTimeout:  cfg.Orchestrator.ShutdownTimeout,
		CloseOnStart:     cfg.Orchestrator.CloseOnStart,
		RetryPolicy:      placePolicy,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		lighter:   lighterClient,
		pacifica:  pacificaClient,
		feed:      feed,
		orch:      orch,
		stats:     stats,
		alerts:    alertsClient,
		prom:      prom,
		timescale: tsWriter,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()

	a.logPriorCycle(ctx)
	a.timescale.Start(ctx)
	a.startMetricsServer(ctx)

	go func() {
		if err := a.feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("price feed stopped", zap.Error(err))
		}
	}()

	a.startOperator(ctx)

	if a.alerts.Enabled() {
		if err := a.alerts.Send(ctx, fmt.Sprintf("bot starting: venues %s/%s, pairs %s",
			a.lighter.Name(), a.pacifica.Name(), strings.Join(a.cfg.Trading.Pairs, ", "))); err != nil {
			a.log.Warn("startup alert failed", zap.Error(err))
		}
	}

	return a.orch.Run(ctx)
}

// logPriorCycle surfaces what the previous run was doing when it
// stopped, so a crash mid-cycle is visible before startup verification
// runs.
func (a *App) logPriorCycle(ctx context.Context) {
	snapshot, ok, err := state.LoadCycleSnapshot(ctx, a.store)
	if err != nil {
		a.log.Warn("failed to load prior cycle snapshot", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	a.log.Info("prior run snapshot",
		zap.String("cycle", snapshot.CycleID),
		zap.String("symbol", snapshot.Symbol),
		zap.String("state", snapshot.State),
		zap.String("long_venue", snapshot.LongVenue),
		zap.String("short_venue", snapshot.ShortVenue),
		zap.Float64("notional", snapshot.Notional),
		zap.Time("updated_at", time.UnixMilli(snapshot.UpdatedAtMS).UTC()),
	)
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
