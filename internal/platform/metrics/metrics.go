package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	EventsAppended     *prometheus.CounterVec
	AppendFailures     prometheus.Counter
	EventsPublished    prometheus.Counter
	SubscriberFailures *prometheus.CounterVec
	NotificationsSent  prometheus.Counter
	ProjectionRebuilds prometheus.Counter
	CacheHits          prometheus.Counter
}

// New creates and registers all metrics on the given registerer. Tests pass
// a fresh prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridpass_events_appended_total",
			Help: "Permission events appended to the event store, by kind",
		}, []string{"kind"}),
		AppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridpass_event_append_failures_total",
			Help: "Event store append failures; no publish happens for these",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridpass_events_published_total",
			Help: "Events handed to the event bus after a successful append",
		}),
		SubscriberFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridpass_subscriber_failures_total",
			Help: "Handler errors per subscriber; events are redelivered on replay",
		}, []string{"subscriber"}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridpass_status_notifications_sent_total",
			Help: "Status notifications forwarded to the eligible-party sink",
		}),
		ProjectionRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridpass_projection_rebuilds_total",
			Help: "Projections folded from the event log",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridpass_projection_cache_hits_total",
			Help: "Projection reads served from the non-authoritative cache",
		}),
	}
}
