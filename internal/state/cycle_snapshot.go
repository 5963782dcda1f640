package state

import (
	"context"
	"encoding/json"
	"strings"
)

const CycleSnapshotKey = "cycle:last_snapshot"

// CycleSnapshot is the orchestrator's last observed cycle position in
// the state machine. It is rewritten on every transition so a restarted
// process can tell what the previous run was doing when it died.
type CycleSnapshot struct {
	CycleID     string  `json:"cycle_id"`
	Symbol      string  `json:"symbol"`
	State       string  `json:"state"`
	LongVenue   string  `json:"long_venue"`
	ShortVenue  string  `json:"short_venue"`
	Notional    float64 `json:"notional"`
	UpdatedAtMS int64   `json:"updated_at_ms"`
}

func LoadCycleSnapshot(ctx context.Context, store Store) (CycleSnapshot, bool, error) {
	if store == nil {
		return CycleSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, CycleSnapshotKey)
	if err != nil {
		return CycleSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CycleSnapshot{}, false, nil
	}
	var snapshot CycleSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return CycleSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveCycleSnapshot(ctx context.Context, store Store, snapshot CycleSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, CycleSnapshotKey, string(payload))
}
