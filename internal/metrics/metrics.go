// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the application's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	TriggerInvocations *prometheus.CounterVec
	TriggerQueueDepth  prometheus.Gauge
	Embeddings         *prometheus.CounterVec
	AIRequests         *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	TweetsPosted       prometheus.Counter
	Screenshots        *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TriggerInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compendium",
			Name:      "trigger_invocations_total",
			Help:      "Trigger handler invocations by trigger and result.",
		}, []string{"trigger", "result"}),
		TriggerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "compendium",
			Name:      "trigger_queue_depth",
			Help:      "Changes waiting for trigger delivery.",
		}),
		Embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compendium",
			Name:      "embedding_operations_total",
			Help:      "Embedding pipeline outcomes.",
		}, []string{"outcome"}),
		AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compendium",
			Name:      "ai_proxy_requests_total",
			Help:      "AI proxy requests by result kind.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compendium",
			Name:      "notifications_total",
			Help:      "Notification emails by kind and result.",
		}, []string{"kind", "result"}),
		TweetsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compendium",
			Name:      "tweets_posted_total",
			Help:      "Cards posted by the auto-poster.",
		}),
		Screenshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compendium",
			Name:      "screenshots_total",
			Help:      "Screenshot requests by cache outcome.",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TriggerInvocations,
		m.TriggerQueueDepth,
		m.Embeddings,
		m.AIRequests,
		m.Notifications,
		m.TweetsPosted,
		m.Screenshots,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
