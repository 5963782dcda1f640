package hedger

import (
	"sync"
	"time"
)

// VenueStats counts one venue's activity over the process lifetime.
type VenueStats struct {
	Trades          int
	Successful      int
	Failed          int
	PositionsOpened int
	PositionsClosed int
}

// StatsSnapshot is a read-only copy of the aggregator handed to
// logging and monitoring.
type StatsSnapshot struct {
	StartTime        time.Time
	TotalCycles      int
	SuccessfulCycles int
	FailedCycles     int
	AbortedCycles    int
	ExhaustedRetries int
	TerminalFailures int
	VerifyFailures   int
	Venues           map[string]VenueStats
}

// Stats accumulates per-venue and per-cycle counters. Both venue tasks
// and the orchestrator update it concurrently, so every mutation runs
// under the mutex.
type Stats struct {
	mu        sync.Mutex
	startTime time.Time
	total     int
	success   int
	failed    int
	aborted   int
	exhausted int
	terminal  int
	verify    int
	venues    map[string]*VenueStats
}

func NewStats() *Stats {
	return &Stats{
		startTime: time.Now().UTC(),
		venues:    make(map[string]*VenueStats),
	}
}

func (s *Stats) RecordTrade(venueName string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.venueStats(venueName)
	vs.Trades++
	if ok {
		vs.Successful++
	} else {
		vs.Failed++
	}
}

func (s *Stats) RecordOpened(venueName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venueStats(venueName).PositionsOpened++
}

func (s *Stats) RecordClosed(venueName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venueStats(venueName).PositionsClosed++
}

func (s *Stats) RecordCycle(outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	switch outcome {
	case OutcomeSuccess:
		s.success++
	case OutcomeAborted:
		s.aborted++
	default:
		s.failed++
	}
}

func (s *Stats) RecordExhausted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhausted++
}

func (s *Stats) RecordTerminal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal++
}

func (s *Stats) RecordVerifyFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verify++
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	venues := make(map[string]VenueStats, len(s.venues))
	for name, vs := range s.venues {
		venues[name] = *vs
	}
	return StatsSnapshot{
		StartTime:        s.startTime,
		TotalCycles:      s.total,
		SuccessfulCycles: s.success,
		FailedCycles:     s.failed,
		AbortedCycles:    s.aborted,
		ExhaustedRetries: s.exhausted,
		TerminalFailures: s.terminal,
		VerifyFailures:   s.verify,
		Venues:           venues,
	}
}

func (s *Stats) venueStats(name string) *VenueStats {
	vs, ok := s.venues[name]
	if !ok {
		vs = &VenueStats{}
		s.venues[name] = vs
	}
	return vs
}
