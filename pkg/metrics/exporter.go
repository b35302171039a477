package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jzx17/godispatch/pkg/types"
)

// Exporter publishes task outcomes as Prometheus metrics. It implements
// types.Observer and only touches lock-free client_golang collectors, so it
// never slows a worker down.
type Exporter struct {
	durations *prometheus.HistogramVec
	outcomes  *prometheus.CounterVec
	cancelled prometheus.Counter
}

var _ types.Observer = (*Exporter)(nil)

// NewExporter creates the collectors and registers them on reg
func NewExporter(reg prometheus.Registerer) (*Exporter, error) {
	e := &Exporter{
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "godispatch",
				Name:      "task_duration_seconds",
				Help:      "Execution duration of one task attempt.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .15, .25, .5, 1, 2.5, 5},
			},
			[]string{"outcome"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "godispatch",
				Name:      "task_outcomes_total",
				Help:      "Task attempts by outcome.",
			},
			[]string{"outcome"},
		),
		cancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "godispatch",
				Name:      "workers_cancelled_total",
				Help:      "Workers cancelled while holding a task.",
			},
		),
	}

	for _, c := range []prometheus.Collector{e.durations, e.outcomes, e.cancelled} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return e, nil
}

// Observe implements types.Observer
func (e *Exporter) Observe(ev types.Event) {
	outcome := ev.Outcome.String()
	e.outcomes.WithLabelValues(outcome).Inc()
	e.durations.WithLabelValues(outcome).Observe(ev.Duration.Seconds())
	if ev.Crashed {
		e.cancelled.Inc()
	}
}
