// Package metrics exposes engine, HTTP and keeper measurements to
// Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

const namespace = "drawsettle"

// Metrics owns a private registry so several instances can coexist in
// tests.
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	ticketsSold     *prometheus.CounterVec
	ticketRevenue   *prometheus.CounterVec
	drawsSettled    prometheus.Counter
	winners         *prometheus.CounterVec
	prizesClaimed   *prometheus.CounterVec
	transferFailure *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "operations_total",
			Help: "Engine operations by outcome.",
		}, []string{"op", "outcome"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "operation_duration_seconds",
			Help:    "Engine operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		ticketsSold: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "tickets_sold_total",
			Help: "Tickets sold.",
		}, []string{"denom"}),
		ticketRevenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "ticket_revenue_total",
			Help: "Funds added to draw pots.",
		}, []string{"denom"}),
		drawsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "draws_settled_total",
			Help: "Draws that reached the claimable state.",
		}),
		winners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "winning_tickets_total",
			Help: "Winning tickets by match count.",
		}, []string{"matches"}),
		prizesClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "prizes_claimed_total",
			Help: "Prize amounts paid out.",
		}, []string{"denom"}),
		transferFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "transfer_failures_total",
			Help: "Ledger transfers that failed after commit.",
		}, []string{"kind"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "keeper", Name: "job_runs_total",
			Help: "Keeper job runs by outcome.",
		}, []string{"job", "success"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "keeper", Name: "job_run_duration_seconds",
			Help:    "Keeper job latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"job"}),
	}
	m.registry.MustRegister(
		m.operations, m.operationTime,
		m.ticketsSold, m.ticketRevenue,
		m.drawsSettled, m.winners,
		m.prizesClaimed, m.transferFailure,
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.jobRuns, m.jobDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one engine call. Business rejections are
// counted separately from failures.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.operations.WithLabelValues(op, outcome(err)).Inc()
	m.operationTime.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) TicketsSold(denom string, count int, amount float64) {
	m.ticketsSold.WithLabelValues(denom).Add(float64(count))
	m.ticketRevenue.WithLabelValues(denom).Add(amount)
}

func (m *Metrics) DrawSettled(winners domain.WinnerCounts) {
	m.drawsSettled.Inc()
	for i, n := range winners {
		if n > 0 {
			m.winners.WithLabelValues(strconv.Itoa(i + 1)).Add(float64(n))
		}
	}
}

func (m *Metrics) PrizeClaimed(denom string, amount float64) {
	m.prizesClaimed.WithLabelValues(denom).Add(amount)
}

func (m *Metrics) TransferFailed(kind string) {
	m.transferFailure.WithLabelValues(kind).Inc()
}

// ObserveJob records one keeper run.
func (m *Metrics) ObserveJob(job string, elapsed time.Duration, err error) {
	m.jobRuns.WithLabelValues(job, strconv.FormatBool(err == nil)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// Instrument wraps next with HTTP request metrics. Routes are labelled by
// the matched mux pattern so path parameters do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		} else if i := strings.IndexByte(route, ' '); i >= 0 {
			route = route[i+1:]
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isRejection(err):
		return "rejected"
	default:
		return "error"
	}
}

var rejections = []error{
	domain.ErrUnauthorized,
	domain.ErrDrawNotOpen,
	domain.ErrDrawStillOpen,
	domain.ErrDrawNotPending,
	domain.ErrDrawNotClaimable,
	domain.ErrDrawNotFound,
	domain.ErrInvalidTicket,
	domain.ErrMaxTicketsExceeded,
	domain.ErrWrongDenomination,
	domain.ErrInsufficientFunds,
	domain.ErrInvalidRandomness,
	domain.ErrAlreadyClaimed,
	domain.ErrNoPrizeToClaim,
	domain.ErrRandomnessAlreadyRequested,
	domain.ErrNoTicketsFound,
	domain.ErrInvalidAddress,
	domain.ErrInvalidConfig,
}

func isRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websockets.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
