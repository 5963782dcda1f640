package timescale

import (
	"context"
	"testing"

	"dualdex-bot/internal/config"
	"dualdex-bot/internal/hedger"

	"go.uber.org/zap"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatal("disabled writer must be nil")
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing dsn")
	}
}

// The app holds a nil *Writer when history persistence is disabled, so
// the whole surface must tolerate a nil receiver.
func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.Start(context.Background())
	if err := w.Record(context.Background(), hedger.CycleRecord{ID: "cycle-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
