package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the delivery engine.
type Metrics struct {
	DeliveriesCreated prometheus.Counter
	DeliveriesSent    prometheus.Counter
	DeliveriesFailed  prometheus.Counter

	BouncesProcessed prometheus.Counter
	BouncesRejected  prometheus.Counter

	CampaignsExhausted prometheus.Counter
	LettersDeactivated prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered on a
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DeliveriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanes_deliveries_created_total",
			Help: "Total number of delivery ledger entries created",
		}),
		DeliveriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanes_deliveries_sent_total",
			Help: "Total number of deliveries closed with a successful outcome",
		}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanes_deliveries_failed_total",
			Help: "Total number of deliveries closed with a transport failure",
		}),
		BouncesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanes_bounces_processed_total",
			Help: "Total number of bounce messages reconciled",
		}),
		BouncesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanes_bounces_rejected_total",
			Help: "Total number of bounce markers rejected by signature verification",
		}),
		CampaignsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanes_campaigns_exhausted_total",
			Help: "Total number of campaign exhaustion transitions",
		}),
		LettersDeactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanes_letters_deactivated_total",
			Help: "Total number of letters deactivated by the expiry sweep",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.DeliveriesCreated,
		m.DeliveriesSent,
		m.DeliveriesFailed,
		m.BouncesProcessed,
		m.BouncesRejected,
		m.CampaignsExhausted,
		m.LettersDeactivated,
	)

	return m
}

// Registry returns the private registry, for the metrics HTTP server.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
