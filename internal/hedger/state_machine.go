package hedger

import "sync"

type State string

type Event string

const (
	StateStartupVerify State = "STARTUP_VERIFY"
	StateOpening       State = "OPENING"
	StateVerifyOpen    State = "VERIFY_OPEN"
	StateHolding       State = "HOLDING"
	StateClosing       State = "CLOSING"
	StateVerifyClose   State = "VERIFY_CLOSE"
	StateCooldown      State = "COOLDOWN"
	StateFailedOpen    State = "FAILED_OPEN"
	StateUnhedged      State = "FAILED_OPEN_UNHEDGED"
	StateFailedClose   State = "FAILED_CLOSE"
	StateShutdown      State = "SHUTDOWN"
)

const (
	EventFlatConfirmed Event = "FLAT_CONFIRMED"
	EventOrdersPlaced  Event = "ORDERS_PLACED"
	EventLegsFilled    Event = "LEGS_FILLED"
	EventHoldDone      Event = "HOLD_DONE"
	EventClosesIssued  Event = "CLOSES_ISSUED"
	EventLegsClosed    Event = "LEGS_CLOSED"
	EventCooldownDone  Event = "COOLDOWN_DONE"
	EventOpenFailed    Event = "OPEN_FAILED"
	EventUnhedged      Event = "UNHEDGED"
	EventCloseFailed   Event = "CLOSE_FAILED"
	EventRecovered     Event = "RECOVERED"
	EventShutdown      Event = "SHUTDOWN"
)

// IsFatal reports whether s halts the orchestrator for good.
// FAILED_OPEN and FAILED_CLOSE are recoverable within the restart
// budget; the unhedged state never is.
func (s State) IsFatal() bool {
	return s == StateUnhedged
}

func (s State) IsFailure() bool {
	switch s {
	case StateFailedOpen, StateUnhedged, StateFailedClose:
		return true
	}
	return false
}

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateStartupVerify}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply advances the machine if the event is legal in the current state
// and returns the resulting state. Illegal events leave the state
// unchanged.
func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func nextState(current State, event Event) State {
	if event == EventShutdown {
		// A shutdown signal during HOLDING drives the close path first;
		// everywhere else it terminates directly.
		if current == StateHolding {
			return StateClosing
		}
		return StateShutdown
	}
	switch current {
	case StateStartupVerify:
		if event == EventFlatConfirmed {
			return StateOpening
		}
	case StateOpening:
		switch event {
		case EventOrdersPlaced:
			return StateVerifyOpen
		case EventOpenFailed:
			return StateFailedOpen
		case EventUnhedged:
			return StateUnhedged
		}
	case StateVerifyOpen:
		switch event {
		case EventLegsFilled:
			return StateHolding
		case EventOpenFailed:
			return StateFailedOpen
		case EventUnhedged:
			return StateUnhedged
		}
	case StateHolding:
		if event == EventHoldDone {
			return StateClosing
		}
	case StateClosing:
		switch event {
		case EventClosesIssued:
			return StateVerifyClose
		case EventCloseFailed:
			return StateFailedClose
		}
	case StateVerifyClose:
		switch event {
		case EventLegsClosed:
			return StateCooldown
		case EventCloseFailed:
			return StateFailedClose
		}
	case StateCooldown:
		if event == EventCooldownDone {
			return StateOpening
		}
	case StateFailedOpen, StateFailedClose:
		if event == EventRecovered {
			return StateCooldown
		}
	}
	return current
}
