// Package metrics holds the Prometheus collectors for generation sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threadcast",
		Name:      "generation_sessions_total",
		Help:      "Generation sessions by backend and final state.",
	}, []string{"backend", "state"})

	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "threadcast",
		Name:      "generation_session_duration_seconds",
		Help:      "Wall time of generation sessions by final state.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"state"})

	ParagraphsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "threadcast",
		Name:      "paragraphs_persisted_total",
		Help:      "Paragraphs committed to the message store.",
	})

	ContextMessages = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "threadcast",
		Name:      "context_messages",
		Help:      "Prior messages included in the generation context.",
		Buckets:   prometheus.LinearBuckets(0, 5, 10),
	})

	ContextFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "threadcast",
		Name:      "context_fallbacks_total",
		Help:      "Sessions that fell back to prompt-only context after a store error.",
	})

	DisconnectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "threadcast",
		Name:      "disconnected_clients_total",
		Help:      "Sessions whose client went away before the reply finished.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
