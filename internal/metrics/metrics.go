// Package metrics provides Prometheus instrumentation for the edge engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts engine cycles by result (ok, halted, error).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_cycles_total",
		Help: "Total number of engine cycles",
	}, []string{"result"})

	// CycleDuration tracks wall time of a full cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weather_edge_cycle_duration_seconds",
		Help:    "Engine cycle duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// MarketsScanned counts markets evaluated per cycle.
	MarketsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_edge_markets_scanned_total",
		Help: "Markets considered by the scanner",
	})

	// MarketsSkipped counts markets dropped before admission, by reason.
	MarketsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_markets_skipped_total",
		Help: "Markets skipped, partitioned by reason",
	}, []string{"reason"})

	// EdgeObserved records the best edge found per evaluated market.
	EdgeObserved = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_edge_edge",
		Help:    "Best edge per evaluated market",
		Buckets: []float64{-0.2, -0.1, -0.05, 0, 0.02, 0.05, 0.08, 0.12, 0.2, 0.3},
	}, []string{"side"})

	// PositionsAdmitted counts admissions by correlation cluster.
	PositionsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_positions_admitted_total",
		Help: "Positions admitted into the ledger",
	}, []string{"cluster", "side"})

	// PositionsSettled counts settlements by status and resolution source.
	PositionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_positions_settled_total",
		Help: "Positions settled",
	}, []string{"status", "resolution"})

	// PositionLimitRejections counts admissions refused by the exposure limiter.
	PositionLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_position_limit_rejections_total",
		Help: "Admissions rejected by the position limiter",
	}, []string{"limit"})

	// Bankroll tracks cash not committed to open positions.
	Bankroll = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weather_edge_bankroll",
		Help: "Uncommitted bankroll",
	})

	// OpenExposure tracks the sum of open stakes.
	OpenExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weather_edge_open_exposure",
		Help: "Sum of open position stakes",
	})

	// OpenPositions tracks the number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weather_edge_open_positions",
		Help: "Number of open positions",
	})

	// StalePositions tracks positions unresolved past the stale window.
	StalePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weather_edge_stale_positions",
		Help: "Open positions unresolved past the stale window",
	})

	// UpstreamFailures counts failed upstream requests after retries, by source.
	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_upstream_failures_total",
		Help: "Upstream requests that failed after retries",
	}, []string{"source"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weather_edge_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_edge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5, 30},
	}, []string{"method", "path"})
)

// UpstreamFailed is a transport failure hook.
func UpstreamFailed(source string) {
	UpstreamFailures.WithLabelValues(source).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
