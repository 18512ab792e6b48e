package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and gauges for the relay.
type Metrics struct {
	PollsTotal     *prometheus.CounterVec // label: feed
	PollErrors     *prometheus.CounterVec // label: feed
	RecordsFetched *prometheus.CounterVec // label: feed
	RecordsDropped *prometheus.CounterVec // labels: feed, reason={coordinates,identifier}
	EventsEnqueued *prometheus.CounterVec // labels: feed, kind={active,closure}

	DeliverySent   prometheus.Counter
	DeliveryErrors prometheus.Counter
	Reconnects     prometheus.Counter
	QueueDepth     prometheus.Gauge
	SenderRunning  prometheus.Gauge
}

// NewMetrics creates and registers all relay metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PollsTotal,
		m.PollErrors,
		m.RecordsFetched,
		m.RecordsDropped,
		m.EventsEnqueued,
		m.DeliverySent,
		m.DeliveryErrors,
		m.Reconnects,
		m.QueueDepth,
		m.SenderRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident_relay",
			Name:      "polls_total",
			Help:      "Completed poll cycles per feed.",
		}, []string{"feed"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident_relay",
			Name:      "poll_errors_total",
			Help:      "Poll cycles that failed before completing.",
		}, []string{"feed"}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident_relay",
			Name:      "records_fetched_total",
			Help:      "Incident records fetched from the source feeds.",
		}, []string{"feed"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident_relay",
			Name:      "records_dropped_total",
			Help:      "Records rejected by validation, by reason.",
		}, []string{"feed", "reason"}),
		EventsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident_relay",
			Name:      "events_enqueued_total",
			Help:      "Canonical events handed to the delivery queue.",
		}, []string{"feed", "kind"}),
		DeliverySent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incident_relay",
			Name:      "delivery_sent_total",
			Help:      "Event documents written to the transport.",
		}),
		DeliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incident_relay",
			Name:      "delivery_errors_total",
			Help:      "Transport write failures.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incident_relay",
			Name:      "reconnects_total",
			Help:      "Transport reconnect attempts after a broken connection.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "incident_relay",
			Name:      "queue_depth",
			Help:      "Events waiting in the delivery queue.",
		}),
		SenderRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "incident_relay",
			Name:      "sender_running",
			Help:      "1 when the delivery worker is running, 0 otherwise.",
		}),
	}
}
