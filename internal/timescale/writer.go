package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"dualdex-bot/internal/config"
	"dualdex-bot/internal/hedger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Writer persists finished cycles into a TimescaleDB hypertable. Writes
// go through a bounded queue so a slow database never stalls the
// trading loop; overflow drops records with a one-shot warning.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	cycles  chan hedger.CycleRecord
	started atomic.Bool
	dropped atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		cycles: make(chan hedger.CycleRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record enqueues rec for asynchronous insertion. It satisfies the
// orchestrator's Recorder interface and never blocks.
func (w *Writer) Record(_ context.Context, rec hedger.CycleRecord) error {
	if w == nil {
		return nil
	}
	select {
	case w.cycles <- rec:
		return nil
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale cycle queue full")
		}
		return nil
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.cycles:
			w.writeCycle(ctx, rec)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		long_venue TEXT NOT NULL,
		short_venue TEXT NOT NULL,
		notional_usd DOUBLE PRECISION NOT NULL,
		outcome TEXT NOT NULL,
		final_state TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL
	)`, w.table("cycle_records"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("cycle_records"))); err != nil && w.log != nil {
		w.log.Warn("timescale cycle_records hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeCycle(ctx context.Context, rec hedger.CycleRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, symbol, long_venue, short_venue, notional_usd,
		outcome, final_state, started_at, duration_seconds
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("cycle_records"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.EndedAt,
		rec.ID,
		rec.Symbol,
		rec.LongVenue,
		rec.ShortVenue,
		rec.Notional,
		string(rec.Outcome),
		string(rec.FinalState),
		rec.StartedAt,
		rec.EndedAt.Sub(rec.StartedAt).Seconds(),
	); err != nil && w.log != nil {
		w.log.Warn("timescale cycle insert failed", zap.String("cycle", rec.ID), zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
