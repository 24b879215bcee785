package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsCollector wraps the Prometheus metrics of the gRPC server, the HTTP
// API and the pipeline stages.
type MetricsCollector struct {
	serverMetrics *grpcprom.ServerMetrics
	stages        *StageMetrics
	http          *HTTPMetrics
	handler       http.Handler
}

// InitMetrics registers every collector on reg. A nil reg means the default
// registry.
func InitMetrics(reg prometheus.Registerer) (*MetricsCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	serverMetrics := grpcprom.NewServerMetrics(
		grpcprom.WithServerHandlingTimeHistogram(
			grpcprom.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10}),
		),
	)
	serverMetrics, err := register(reg, serverMetrics)
	if err != nil {
		return nil, err
	}

	stages, err := NewStageMetrics(reg)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := NewHTTPMetrics(reg)
	if err != nil {
		return nil, err
	}

	handler := promhttp.Handler()
	if g, ok := reg.(prometheus.Gatherer); ok && reg != prometheus.DefaultRegisterer {
		handler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}

	return &MetricsCollector{
		serverMetrics: serverMetrics,
		stages:        stages,
		http:          httpMetrics,
		handler:       handler,
	}, nil
}

// GetServerMetrics returns the gRPC server metrics
func (mc *MetricsCollector) GetServerMetrics() *grpcprom.ServerMetrics {
	return mc.serverMetrics
}

func (mc *MetricsCollector) Stages() *StageMetrics { return mc.stages }

func (mc *MetricsCollector) HTTP() *HTTPMetrics { return mc.http }

// GetHandler returns the HTTP handler for /metrics endpoint
func (mc *MetricsCollector) GetHandler() http.Handler {
	return mc.handler
}

// StartMetricsServer serves /metrics and /health on a dedicated port.
func StartMetricsServer(port string, handler http.Handler, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting metrics server", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// StageMetrics counts rows and failures per pipeline stage. A nil
// *StageMetrics records nothing.
type StageMetrics struct {
	rows     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	requeued *prometheus.CounterVec
}

func NewStageMetrics(reg prometheus.Registerer) (*StageMetrics, error) {
	m := &StageMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filebox",
			Subsystem: "pipeline",
			Name:      "rows_total",
			Help:      "Rows emitted by a pipeline stage.",
		}, []string{"stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filebox",
			Subsystem: "pipeline",
			Name:      "row_failures_total",
			Help:      "Rows skipped by a pipeline stage, by reason.",
		}, []string{"stage", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "filebox",
			Subsystem: "pipeline",
			Name:      "chunk_duration_seconds",
			Help:      "Time spent running one chunk of keys through a stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "result"}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filebox",
			Subsystem: "pipeline",
			Name:      "requeued_keys_total",
			Help:      "Keys put back on the queue after a failed chunk.",
		}, []string{"stage"}),
	}
	var err error
	if m.rows, err = register(reg, m.rows); err != nil {
		return nil, err
	}
	if m.failures, err = register(reg, m.failures); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.requeued, err = register(reg, m.requeued); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StageMetrics) Rows(stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rows.WithLabelValues(stage).Add(float64(n))
}

func (m *StageMetrics) Failure(stage, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage, reason).Inc()
}

func (m *StageMetrics) ObserveChunk(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.duration.WithLabelValues(stage, result).Observe(time.Since(start).Seconds())
}

func (m *StageMetrics) Requeued(stage string, n int) {
	if m == nil {
		return
	}
	m.requeued.WithLabelValues(stage).Add(float64(n))
}

// HTTPMetrics instruments the REST API.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filebox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "filebox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) Observe(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// register tolerates collectors that are already registered, which happens
// when tests build several servers in one process, and hands back the one
// already in use.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
