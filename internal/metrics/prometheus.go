package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "dualdex_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		OrdersPlaced:    promCounter{counter("orders_placed_total", "Total number of orders accepted by a venue.")},
		OrdersFailed:    promCounter{counter("orders_failed_total", "Total number of order placements that failed after retries.")},
		CyclesCompleted: promCounter{counter("cycles_completed_total", "Total number of hedge cycles closed clean.")},
		CyclesFailed:    promCounter{counter("cycles_failed_total", "Total number of hedge cycles that ended in a failure state.")},
		OpenFailures:    promCounter{counter("open_failures_total", "Total number of entry flows that did not reach a hedged hold.")},
		CloseFailures:   promCounter{counter("close_failures_total", "Total number of exit flows with at least one leg left open.")},
		Unwinds:         promCounter{counter("unwinds_total", "Total number of surviving legs unwound after a sibling failure.")},
		UnhedgedAlerts:  promCounter{counter("unhedged_alerts_total", "Total number of unhedged-exposure halts.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
