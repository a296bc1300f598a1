// Package metrics provides Prometheus instrumentation for the tracker core.
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

// Outcome label values
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

var (
	// MarketDataRequests counts market-data calls by endpoint and outcome.
	MarketDataRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_market_data_requests_total",
		Help: "Market data API requests",
	}, []string{"endpoint", "outcome"})

	MarketDataLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_market_data_latency_seconds",
		Help:    "Market data API latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})

	// BreakerState is 0 closed, 1 open, 2 half-open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// WriteAttempts counts individual push attempts of investment writes.
	WriteAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_write_attempts_total",
		Help: "Investment write attempts",
	}, []string{"outcome"})

	// WriteResults counts terminal write outcomes by kind.
	WriteResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_write_results_total",
		Help: "Terminal investment write outcomes",
	}, []string{"result"})

	WatchlistRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_watchlist_refreshes_total",
		Help: "Watchlist price refresh cycles",
	}, []string{"outcome"})

	WatchlistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_watchlist_items",
		Help: "Number of watched assets",
	})

	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_portfolio_value",
		Help: "Total portfolio value from the latest snapshot",
	})

	RemoteConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_remote_connected",
		Help: "1 when the remote store is reachable",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_http_requests_total",
		Help: "Total debug API requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_http_request_duration_seconds",
		Help:    "Debug API request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency labelled by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Bool converts a flag to a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
