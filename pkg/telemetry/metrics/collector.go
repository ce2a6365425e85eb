package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/fakeyw/gemini-proxy/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values for the mode label.
const (
	ModePooled = "pooled"
	ModeDirect = "direct"
)

// Acquisition results.
const (
	AcquireOK            = "acquired"
	AcquireExhausted     = "exhausted"
	AcquireNotConfigured = "not_configured"
	AcquireError         = "error"
)

// otherModel replaces model labels once the cardinality limit is reached.
const otherModel = "other"

// Collector owns every Prometheus metric of the proxy. A nil Collector, or
// one created with Enabled=false, records nothing.
//
// Metrics:
//   - <ns>_requests_total{api_type,mode,code}
//   - <ns>_request_duration_seconds{api_type,mode}
//   - <ns>_upstream_attempts_total{api_type,code}
//   - <ns>_key_acquisitions_total{result}
//   - <ns>_key_exhaustions_total{model}
//   - <ns>_bookkeeping_failures_total{operation}
//   - <ns>_pool_resets_total{result}
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	upstreamAttempts    *prometheus.CounterVec
	keyAcquisitions     *prometheus.CounterVec
	keyExhaustions      *prometheus.CounterVec
	bookkeepingFailures *prometheus.CounterVec
	poolResets          *prometheus.CounterVec

	models *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a new registry is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = config.DefaultRequestDurationBuckets
	}

	c := &Collector{
		config:   cfg,
		registry: registry,
		models:   NewCardinalityLimiter(1000),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "requests_total",
				Help:      "Total number of proxied requests by final status code",
			},
			[]string{"api_type", "mode", "code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "request_duration_seconds",
				Help:      "Time to first response byte of proxied requests, including retries",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"api_type", "mode"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_attempts_total",
				Help:      "Upstream calls by response status code (0 for transport failures)",
			},
			[]string{"api_type", "code"},
		),

		keyAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "key_acquisitions_total",
				Help:      "Key pool acquisitions by result",
			},
			[]string{"result"},
		),

		keyExhaustions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "key_exhaustions_total",
				Help:      "Keys marked exhausted after an upstream 429",
			},
			[]string{"model"},
		),

		bookkeepingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "bookkeeping_failures_total",
				Help:      "Background key pool updates that failed",
			},
			[]string{"operation"},
		),

		poolResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "pool_resets_total",
				Help:      "Scheduled key pool resets by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.upstreamAttempts,
		c.keyAcquisitions,
		c.keyExhaustions,
		c.bookkeepingFailures,
		c.poolResets,
	)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordRequest records a completed request.
func (c *Collector) RecordRequest(apiType, mode string, code int, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.requestsTotal.WithLabelValues(apiType, mode, strconv.Itoa(code)).Inc()
	c.requestDuration.WithLabelValues(apiType, mode).Observe(duration.Seconds())
}

// RecordUpstreamAttempt records one upstream call. code is 0 when the
// upstream could not be reached.
func (c *Collector) RecordUpstreamAttempt(apiType string, code int) {
	if !c.enabled() {
		return
	}

	c.upstreamAttempts.WithLabelValues(apiType, strconv.Itoa(code)).Inc()
}

// RecordAcquisition records the result of a key pool acquisition.
func (c *Collector) RecordAcquisition(result string) {
	if !c.enabled() {
		return
	}

	c.keyAcquisitions.WithLabelValues(result).Inc()
}

// RecordExhaustion records a key marked exhausted for model.
func (c *Collector) RecordExhaustion(model string) {
	if !c.enabled() {
		return
	}

	if !c.models.Allow(model) {
		model = otherModel
	}
	c.keyExhaustions.WithLabelValues(model).Inc()
}

// RecordBookkeepingFailure records a failed background pool update.
func (c *Collector) RecordBookkeepingFailure(operation string) {
	if !c.enabled() {
		return
	}

	c.bookkeepingFailures.WithLabelValues(operation).Inc()
}

// RecordReset records a scheduled reset.
func (c *Collector) RecordReset(err error) {
	if !c.enabled() {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	c.poolResets.WithLabelValues(result).Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label value is allowed. Returns true if the value
// already exists or if we haven't reached the cardinality limit yet.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[value]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
