package obs

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/backend-buyback/internal/events"
)

// BuybackMetrics counts buyback list activity.
type BuybackMetrics struct {
	Mutations       *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	SkippedEntries  *prometheus.CounterVec
	StaleLists      *prometheus.CounterVec
}

// NewBuybackMetrics registers and returns the buyback collectors.
func NewBuybackMetrics(namespace string, reg prometheus.Registerer) *BuybackMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &BuybackMetrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buyback_mutations_total",
			Help:      "Buyback list mutations by market and kind.",
		}, []string{"market", "kind"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buyback_persist_failures_total",
			Help:      "Failed buyback list storage operations.",
		}, []string{"op"}),
		SkippedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buyback_skipped_entries_total",
			Help:      "Persisted list entries dropped on restore because they were invalid.",
		}, []string{"market"}),
		StaleLists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buyback_stale_lists_total",
			Help:      "Requests made against an outdated list revision.",
		}, []string{"market"}),
	}
	m.Mutations = register(reg, m.Mutations)
	m.PersistFailures = register(reg, m.PersistFailures)
	m.SkippedEntries = register(reg, m.SkippedEntries)
	m.StaleLists = register(reg, m.StaleLists)
	return m
}

// Notify counts an emitted buyback event.
func (m *BuybackMetrics) Notify(_ context.Context, ev events.Event) error {
	if m == nil {
		return nil
	}
	kind := strings.TrimPrefix(ev.Topic, "buyback.")
	m.Mutations.WithLabelValues(ev.Market, kind).Inc()
	return nil
}

// PersistFailed counts a failed storage operation.
func (m *BuybackMetrics) PersistFailed(op string, _ error) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(op).Inc()
}

// Skipped counts dropped entries for a market.
func (m *BuybackMetrics) Skipped(marketCode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SkippedEntries.WithLabelValues(marketCode).Add(float64(n))
}

// Stale counts a request made with an outdated revision.
func (m *BuybackMetrics) Stale(marketCode string) {
	if m == nil {
		return
	}
	m.StaleLists.WithLabelValues(marketCode).Inc()
}

var _ events.Notifier = (*BuybackMetrics)(nil)
