package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultPort is used by NewHTTPServer when no port is configured.
const DefaultPort = 9090

// Admin API metrics
var (
	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_admin_requests_total",
			Help: "Total number of cache administration requests.",
		},
		[]string{"method", "route", "code"},
	)

	AdminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_admin_request_duration_seconds",
			Help:    "Latency of cache administration requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Invalidation metrics
var (
	// InvalidationsTotal counts invalidations by scope ("all" or "region") and origin
	// ("local" for this node's admin surfaces, "remote" for cluster peers).
	InvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Total number of cache invalidations.",
		},
		[]string{"scope", "origin"},
	)

	// ClusterMessagesTotal counts invalidation messages exchanged with cluster peers.
	ClusterMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_cluster_messages_total",
			Help: "Total number of cluster invalidation messages by direction and status.",
		},
		[]string{"direction", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		AdminRequestsTotal,
		AdminRequestDuration,
		InvalidationsTotal,
		ClusterMessagesTotal,
	)
}

// ObserveAdminRequest records a finished admin request.
func ObserveAdminRequest(method, route string, code int, elapsed time.Duration) {
	AdminRequestsTotal.WithLabelValues(method, route, fmt.Sprint(code)).Inc()
	AdminRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
