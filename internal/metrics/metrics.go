package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the delivery counters exposed on /metrics.
type Metrics struct {
	Sent     prometheus.Counter
	Failed   prometheus.Counter
	Retried  prometheus.Counter
	Chained  prometheus.Counter
	TickTime prometheus.Histogram
}

// New registers the scheduler metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schedmsg",
			Name:      "messages_sent_total",
			Help:      "Scheduled messages delivered successfully.",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schedmsg",
			Name:      "messages_failed_total",
			Help:      "Scheduled messages that exhausted their retries.",
		}),
		Retried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schedmsg",
			Name:      "messages_retried_total",
			Help:      "Failed dispatch attempts that were requeued.",
		}),
		Chained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schedmsg",
			Name:      "recurrences_chained_total",
			Help:      "Follow-up records created for recurring messages.",
		}),
		TickTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schedmsg",
			Name:      "poll_tick_duration_seconds",
			Help:      "Duration of one due-message poll tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
