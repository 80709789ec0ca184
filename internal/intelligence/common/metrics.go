package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// InferenceMetrics records telemetry for model inference.  Taggers report
// through it so the implementation (Prometheus, in-memory, noop) can be
// swapped without touching tagging code.
type InferenceMetrics interface {
	// RecordInference records a single model inference event.
	RecordInference(ctx context.Context, params *InferenceMetricParams)

	// RecordModelLoad records a model load attempt.
	RecordModelLoad(ctx context.Context, modelName, version string, durationMs float64, success bool)

	// GetInferenceLatencyHistogram returns the latency histogram for SLO checks.
	GetInferenceLatencyHistogram() LatencyHistogram

	// GetCurrentStats returns a point-in-time statistics snapshot.
	GetCurrentStats() *InferenceStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	Observe(durationMs float64)
	// Percentile returns the value at percentile p (0-100).
	Percentile(p float64) float64
	Count() int64
	Sum() float64
}

// InferenceMetricParams carries the data for a single inference event.
type InferenceMetricParams struct {
	ModelName    string  `json:"model_name"`
	ModelVersion string  `json:"model_version"`
	Backend      string  `json:"backend"`
	DurationMs   float64 `json:"duration_ms"`
	Success      bool    `json:"success"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	Truncated    bool    `json:"truncated,omitempty"`
}

// InferenceStats is a point-in-time snapshot.
type InferenceStats struct {
	TotalInferences      int64   `json:"total_inferences"`
	SuccessfulInferences int64   `json:"successful_inferences"`
	FailedInferences     int64   `json:"failed_inferences"`
	TruncatedInputs      int64   `json:"truncated_inputs"`
	AvgLatencyMs         float64 `json:"avg_latency_ms"`
	P50LatencyMs         float64 `json:"p50_latency_ms"`
	P95LatencyMs         float64 `json:"p95_latency_ms"`
	P99LatencyMs         float64 `json:"p99_latency_ms"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "lexner_inference_"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

type prometheusInferenceMetrics struct {
	inferenceLatency  *prometheus.HistogramVec
	inferenceTotal    *prometheus.CounterVec
	inputTokens       *prometheus.HistogramVec
	truncatedTotal    *prometheus.CounterVec
	modelLoadDuration *prometheus.HistogramVec

	counters inferenceCounters
}

// NewPrometheusInferenceMetrics registers the inference metrics with
// registerer (prometheus.DefaultRegisterer when nil).
func NewPrometheusInferenceMetrics(registerer prometheus.Registerer) (InferenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &prometheusInferenceMetrics{counters: newInferenceCounters()}

	m.inferenceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "duration_milliseconds",
		Help:    "Histogram of tagging model inference latency in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"model_name", "model_version", "backend"})

	m.inferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "total",
		Help: "Total number of tagging model inferences.",
	}, []string{"model_name", "backend", "status"})

	m.inputTokens = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "input_tokens",
		Help:    "Number of subtokens sent to the tagging model.",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 320, 512},
	}, []string{"model_name"})

	m.truncatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "truncated_total",
		Help: "Inputs truncated to the model's maximum length.",
	}, []string{"model_name"})

	m.modelLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "model_load_duration_milliseconds",
		Help:    "Histogram of model load duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"model_name", "version", "status"})

	for _, c := range []prometheus.Collector{
		m.inferenceLatency, m.inferenceTotal, m.inputTokens, m.truncatedTotal, m.modelLoadDuration,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prometheusInferenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	status := "success"
	if !p.Success {
		status = "failure"
	}
	m.inferenceLatency.WithLabelValues(p.ModelName, p.ModelVersion, p.Backend).Observe(p.DurationMs)
	m.inferenceTotal.WithLabelValues(p.ModelName, p.Backend, status).Inc()
	if p.InputTokens > 0 {
		m.inputTokens.WithLabelValues(p.ModelName).Observe(float64(p.InputTokens))
	}
	if p.Truncated {
		m.truncatedTotal.WithLabelValues(p.ModelName).Inc()
	}
	m.counters.record(p)
}

func (m *prometheusInferenceMetrics) RecordModelLoad(_ context.Context, modelName, version string, durationMs float64, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.modelLoadDuration.WithLabelValues(modelName, version, status).Observe(durationMs)
}

func (m *prometheusInferenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.counters.latency
}

func (m *prometheusInferenceMetrics) GetCurrentStats() *InferenceStats {
	return m.counters.snapshot()
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopInferenceMetrics struct{}

// NewNoopInferenceMetrics returns metrics that record nothing.
func NewNoopInferenceMetrics() InferenceMetrics { return noopInferenceMetrics{} }

func (noopInferenceMetrics) RecordInference(context.Context, *InferenceMetricParams)       {}
func (noopInferenceMetrics) RecordModelLoad(context.Context, string, string, float64, bool) {}
func (noopInferenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram()
}
func (noopInferenceMetrics) GetCurrentStats() *InferenceStats { return &InferenceStats{} }

// ---------------------------------------------------------------------------
// In-memory implementation (tests, CLI stats)
// ---------------------------------------------------------------------------

// InMemoryInferenceMetrics keeps every recorded event for later inspection.
type InMemoryInferenceMetrics struct {
	mu         sync.Mutex
	inferences []*InferenceMetricParams
	loads      []ModelLoadRecord
	counters   inferenceCounters
}

// ModelLoadRecord is one recorded model load.
type ModelLoadRecord struct {
	ModelName  string
	Version    string
	DurationMs float64
	Success    bool
}

// NewInMemoryInferenceMetrics creates an empty in-memory recorder.
func NewInMemoryInferenceMetrics() *InMemoryInferenceMetrics {
	return &InMemoryInferenceMetrics{counters: newInferenceCounters()}
}

func (m *InMemoryInferenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	cp := *p
	m.mu.Lock()
	m.inferences = append(m.inferences, &cp)
	m.mu.Unlock()
	m.counters.record(p)
}

func (m *InMemoryInferenceMetrics) RecordModelLoad(_ context.Context, modelName, version string, durationMs float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = append(m.loads, ModelLoadRecord{ModelName: modelName, Version: version, DurationMs: durationMs, Success: success})
}

func (m *InMemoryInferenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.counters.latency
}

func (m *InMemoryInferenceMetrics) GetCurrentStats() *InferenceStats {
	return m.counters.snapshot()
}

// GetRecordedInferences returns a copy of every recorded inference.
func (m *InMemoryInferenceMetrics) GetRecordedInferences() []*InferenceMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*InferenceMetricParams, len(m.inferences))
	copy(out, m.inferences)
	return out
}

// GetModelLoads returns a copy of every recorded model load.
func (m *InMemoryInferenceMetrics) GetModelLoads() []ModelLoadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelLoadRecord, len(m.loads))
	copy(out, m.loads)
	return out
}

// ---------------------------------------------------------------------------
// Shared counters
// ---------------------------------------------------------------------------

type inferenceCounters struct {
	latency   *latencyHistogram
	total     *atomic.Int64
	success   *atomic.Int64
	failed    *atomic.Int64
	truncated *atomic.Int64
}

func newInferenceCounters() inferenceCounters {
	return inferenceCounters{
		latency:   newLatencyHistogram(),
		total:     new(atomic.Int64),
		success:   new(atomic.Int64),
		failed:    new(atomic.Int64),
		truncated: new(atomic.Int64),
	}
}

func (c inferenceCounters) record(p *InferenceMetricParams) {
	c.latency.Observe(p.DurationMs)
	c.total.Add(1)
	if p.Success {
		c.success.Add(1)
	} else {
		c.failed.Add(1)
	}
	if p.Truncated {
		c.truncated.Add(1)
	}
}

func (c inferenceCounters) snapshot() *InferenceStats {
	s := &InferenceStats{
		TotalInferences:      c.total.Load(),
		SuccessfulInferences: c.success.Load(),
		FailedInferences:     c.failed.Load(),
		TruncatedInputs:      c.truncated.Load(),
		P50LatencyMs:         c.latency.Percentile(50),
		P95LatencyMs:         c.latency.Percentile(95),
		P99LatencyMs:         c.latency.Percentile(99),
	}
	if n := c.latency.Count(); n > 0 {
		s.AvgLatencyMs = c.latency.Sum() / float64(n)
	}
	return s
}

// ---------------------------------------------------------------------------
// latencyHistogram
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 1024)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
	h.sorted = false
}

// Percentile interpolates linearly between the two nearest ranks
// (PERCENTILE.INC).
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}
	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

func (h *latencyHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.samples))
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

var (
	_ InferenceMetrics = (*prometheusInferenceMetrics)(nil)
	_ InferenceMetrics = noopInferenceMetrics{}
	_ InferenceMetrics = (*InMemoryInferenceMetrics)(nil)
	_ LatencyHistogram = (*latencyHistogram)(nil)
)
