package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersFailed    Counter
	CyclesCompleted Counter
	CyclesFailed    Counter
	OpenFailures    Counter
	CloseFailures   Counter
	Unwinds         Counter
	UnhedgedAlerts  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersFailed:    n,
		CyclesCompleted: n,
		CyclesFailed:    n,
		OpenFailures:    n,
		CloseFailures:   n,
		Unwinds:         n,
		UnhedgedAlerts:  n,
	}
}
