// Package metrics provides Prometheus instrumentation for the yomu server.
//
// Collectors live in a dedicated [prometheus.Registry] so /metrics only shows
// yomu series plus the Go runtime and process collectors.
package metrics

import (
	"context"
	"net/http"
	"path"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "yomu"

// Evaluation states used as the state label of yomu_benefit_evaluations_total.
const (
	StateActive   = "active"
	StateUpcoming = "upcoming"
	StateInactive = "inactive"
)

// Metrics holds all Prometheus collectors used by the yomu server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
	ActiveStreams       *prometheus.GaugeVec
	AuthFailuresTotal   prometheus.Counter

	CacheSize          *prometheus.GaugeVec
	CacheLoadsTotal    prometheus.Counter
	CacheInvalidations prometheus.Counter

	EvaluationsTotal        *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec

	BuildInfo *prometheus.GaugeVec
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func latencyVec(subsystem, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "request_duration_seconds", Help: help,
		Buckets: prometheus.DefBuckets,
	}, labels)
}

// New creates and registers all yomu metrics in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		HTTPRequestsTotal:   counterVec("http", "requests_total", "Total number of HTTP requests.", "method", "route", "status"),
		HTTPRequestDuration: latencyVec("http", "HTTP request latency in seconds.", "method", "route", "status"),
		GRPCRequestsTotal:   counterVec("grpc", "requests_total", "Total number of gRPC requests.", "method", "status"),
		GRPCRequestDuration: latencyVec("grpc", "gRPC request latency in seconds.", "method", "status"),
		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_streams",
			Help: "Number of open catalog watch streams.",
		}, []string{"transport"}),
		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),

		CacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "catalog", Name: "cache_size",
			Help: "Number of benefits in the in-memory catalog, per brand.",
		}, []string{"brand_id"}),
		CacheLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "catalog", Name: "cache_loads_total",
			Help: "Total number of full catalog reloads from the database.",
		}),
		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "catalog", Name: "cache_invalidations_total",
			Help: "Total number of NOTIFY-triggered catalog invalidations.",
		}),

		EvaluationsTotal:        counterVec("benefit", "evaluations_total", "Total number of benefit evaluations by resulting state.", "state"),
		ValidationFailuresTotal: counterVec("benefit", "validation_failures_total", "Total number of benefit records rejected by validation.", "source"),

		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "build_info",
			Help: "Always 1, labelled with the running version.",
		}, []string{"version", "goversion"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.ActiveStreams,
		m.AuthFailuresTotal,
		m.CacheSize,
		m.CacheLoadsTotal,
		m.CacheInvalidations,
		m.EvaluationsTotal,
		m.ValidationFailuresTotal,
		m.BuildInfo,
	)

	return m
}

// SetBuildInfo publishes the server version.
func (m *Metrics) SetBuildInfo(version string) {
	m.BuildInfo.Reset()
	m.BuildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.observeGRPC(info.FullMethod, err, start)
		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor that records
// request count, latency, and active stream gauge.
func (m *Metrics) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		m.ActiveStreams.WithLabelValues("grpc").Inc()
		defer m.ActiveStreams.WithLabelValues("grpc").Dec()
		start := time.Now()
		err := handler(srv, ss)
		m.observeGRPC(info.FullMethod, err, start)
		return err
	}
}

func (m *Metrics) observeGRPC(fullMethod string, err error, start time.Time) {
	method := path.Base(fullMethod)
	code := status.Code(err).String()
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
}

// RecordEvaluation counts one evaluated benefit under the state it ended in.
func (m *Metrics) RecordEvaluation(active, upcoming bool) {
	state := StateInactive
	switch {
	case active:
		state = StateActive
	case upcoming:
		state = StateUpcoming
	}
	m.EvaluationsTotal.WithLabelValues(state).Inc()
}

// RecordValidationFailure counts a rejected benefit record. source names the
// surface that submitted it, e.g. "http", "grpc" or "admin".
func (m *Metrics) RecordValidationFailure(source string) {
	m.ValidationFailuresTotal.WithLabelValues(source).Inc()
}

// SetCacheSize updates the catalog size gauge for the given brand.
func (m *Metrics) SetCacheSize(brandID string, size float64) {
	m.CacheSize.WithLabelValues(brandID).Set(size)
}

// ResetCacheSize drops every per-brand gauge so deleted brands disappear.
func (m *Metrics) ResetCacheSize() {
	m.CacheSize.Reset()
}

// IncCacheLoads increments the cache load counter.
func (m *Metrics) IncCacheLoads() {
	m.CacheLoadsTotal.Inc()
}

// IncCacheInvalidations increments the cache invalidation counter.
func (m *Metrics) IncCacheInvalidations() {
	m.CacheInvalidations.Inc()
}

// IncAuthFailures increments the auth failure counter.
func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}
