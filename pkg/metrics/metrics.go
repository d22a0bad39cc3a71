package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var HistogramBuckets = []float64{
	// fast responses (0 - 500ms)
	25, 50, 75, 100, 150, 200, 300, 400, 500,
	// medium (500ms - 2s): receipt/purchase verification round-trips
	750, 1000, 1250, 1500, 1750, 2000,
	// slow (2s - 15s)
	2500, 3000, 4000, 5000, 7500, 10000, 15000,
	// extended range for authority outages hitting the hard timeout
	20000, 30000, 45000, 60000,
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	var metric prometheus.Collector
	switch m.Type {
	case "counter_vec":
		metric = prometheus.NewCounterVec(
			prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "counter":
		metric = prometheus.NewCounter(
			prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
		)
	case "gauge_vec":
		metric = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "gauge":
		metric = prometheus.NewGauge(
			prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
		)
	case "histogram_vec":
		metric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets},
			m.Args,
		)
	case "histogram":
		metric = prometheus.NewHistogram(
			prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets},
		)
	case "summary_vec":
		metric = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "summary":
		metric = prometheus.NewSummary(
			prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
		)
	}
	return metric
}

// EventsProcessed counts reconciled payment events partitioned by source
// authority, event kind and outcome (processed, duplicate, rejected, failed).
var EventsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: "entitlement",
		Name:      "events_total",
		Help:      "Payment events handled by the reconciler.",
	},
	[]string{"authority", "kind", "outcome"},
)

// RedemptionsProcessed counts promotion redemption attempts by outcome.
var RedemptionsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: "entitlement",
		Name:      "promo_redemptions_total",
		Help:      "Promotion code redemption attempts by outcome.",
	},
	[]string{"outcome"},
)

// LedgerSwept counts processed-event markers removed by the expiry sweep.
var LedgerSwept = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: "entitlement",
		Name:      "ledger_markers_swept_total",
		Help:      "Expired idempotency markers deleted by the sweep loop.",
	},
)

func init() {
	prometheus.MustRegister(EventsProcessed, RedemptionsProcessed, LedgerSwept)
}
