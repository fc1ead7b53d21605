// Package metrics provides Prometheus instrumentation for the step-up orchestrator.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankshield",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bankshield",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionsTotal counts sessions by terminal decision.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankshield",
			Name:      "sessions_total",
			Help:      "Total authentication sessions by terminal decision.",
		},
		[]string{"decision"},
	)

	// RiskTierTotal counts sessions by assessed risk tier.
	RiskTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankshield",
			Name:      "risk_tier_total",
			Help:      "Total sessions scored by risk tier (0-4).",
		},
		[]string{"tier"},
	)

	// ChallengeStepsTotal counts challenge step resolutions by kind and outcome.
	ChallengeStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankshield",
			Name:      "challenge_steps_total",
			Help:      "Total challenge step resolutions by step kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// RAGAttempts observes how many answer attempts a resolved RAG step consumed.
	RAGAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bankshield",
			Name:      "rag_attempts",
			Help:      "Answer attempts consumed per resolved RAG step.",
			Buckets:   []float64{1, 2, 3},
		},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankshield",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks sessions that have not reached a terminal decision.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bankshield",
			Name:      "active_sessions",
			Help:      "Number of sessions currently pending a decision.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bankshield",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankshield", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankshield", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankshield", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankshield", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// ProviderCallsTotal counts verification provider dispatches by kind and result.
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankshield",
			Name:      "provider_calls_total",
			Help:      "Total verification provider dispatches by step kind and result.",
		},
		[]string{"kind", "result"},
	)

	// SessionDuration observes time from session start to terminal decision.
	SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bankshield",
		Name:      "session_duration_seconds",
		Help:      "Time from session start to terminal decision in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SessionsTotal,
		RiskTierTotal,
		ChallengeStepsTotal,
		RAGAttempts,
		WebhookDeliveriesTotal,
		ActiveSessions,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
		ProviderCallsTotal,
		SessionDuration,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus scrape endpoint as a gin handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket collapses status codes into class buckets to bound cardinality.
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
