// Package metrics holds the prometheus collectors for ticket lifecycle events.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const metricPrefix = "parking_"

// Results for entries and settlements.
const (
	ResultSuccess       = "success"
	ResultAlreadyOpen   = "already_open"
	ResultAlreadyClosed = "already_closed"
	ResultError         = "error"
)

// Preview sources.
const (
	SourceLedger = "ledger"
	SourceLocal  = "local"
)

// Metrics bundles the ticket lifecycle collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	TicketsOpened *prometheus.CounterVec
	Settlements   *prometheus.CounterVec
	Previews      *prometheus.CounterVec
	SettledAmount prometheus.Histogram
}

// New constructs the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicketsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "tickets_opened_total",
				Help: "Total tickets opened by result",
			},
			[]string{"result"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlements_total",
				Help: "Total settlement attempts by result",
			},
			[]string{"result"},
		),
		Previews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fee_previews_total",
				Help: "Total fee previews by source",
			},
			[]string{"source"},
		),
		SettledAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "settled_amount",
			Help:    "Net amount of settled tickets",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
	}
	reg.MustRegister(
		m.TicketsOpened,
		m.Settlements,
		m.Previews,
		m.SettledAmount,
	)
	return m
}

// TicketOpened counts an entry attempt.
func (m *Metrics) TicketOpened(result string) {
	if m == nil {
		return
	}
	m.TicketsOpened.WithLabelValues(result).Inc()
}

// SettlementRecorded counts a close attempt and, on success, observes the net amount.
func (m *Metrics) SettlementRecorded(result string, netAmount float64) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		m.SettledAmount.Observe(netAmount)
	}
}

// PreviewServed counts a fee preview by where it was computed.
func (m *Metrics) PreviewServed(source string) {
	if m == nil {
		return
	}
	m.Previews.WithLabelValues(source).Inc()
}
