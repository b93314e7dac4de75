package resilience

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups breaker collectors.
type Metrics struct {
	State       *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
}

// NewMetrics registers breaker collectors on reg (the default registerer when nil).
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open.",
		}, []string{"target"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions.",
		}, []string{"target", "from", "to"}),
	}
	if err := reg.Register(m.State); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.State = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			panic(fmt.Errorf("register breaker state: %w", err))
		}
	}
	if err := reg.Register(m.Transitions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.Transitions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			panic(fmt.Errorf("register breaker transitions: %w", err))
		}
	}
	return m
}

func (m *Metrics) observeState(target string, s State) {
	if m == nil {
		return
	}
	m.State.WithLabelValues(target).Set(float64(s))
}

func (m *Metrics) observeTransition(target string, from, to State) {
	if m == nil {
		return
	}
	m.State.WithLabelValues(target).Set(float64(to))
	m.Transitions.WithLabelValues(target, from.String(), to.String()).Inc()
}
