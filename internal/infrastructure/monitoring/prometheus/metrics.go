package prometheus

import (
	"strconv"
	"time"
)

// Default buckets, in seconds.
var (
	DefaultHTTPDurationBuckets     = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultAnalysisDurationBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultEntityCountBuckets      = []float64{0, 1, 2, 5, 10, 20, 50, 100, 250}
	DefaultDBDurationBuckets       = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NERMetrics holds every metric the service exports.
type NERMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Analysis
	AnalysesTotal      CounterVec
	AnalysisDuration   HistogramVec
	EntitiesTotal      CounterVec
	EntitiesPerText    HistogramVec
	TaggerErrorsTotal  CounterVec
	ModelReady         GaugeVec
	LexiconReloadTotal CounterVec

	// Infrastructure
	CacheHitsTotal         CounterVec
	CacheMissesTotal       CounterVec
	DBQueryDuration        HistogramVec
	MessagesTotal          CounterVec
	MessageProcessDuration HistogramVec
	ErrorsTotal            CounterVec
}

// NewNERMetrics registers all metrics on collector.
func NewNERMetrics(collector MetricsCollector) *NERMetrics {
	m := &NERMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")

	m.AnalysesTotal = collector.RegisterCounter("ner_analyses_total", "NER analyses by origin and outcome", "origin", "status")
	m.AnalysisDuration = collector.RegisterHistogram("ner_analysis_duration_seconds", "NER pipeline duration", DefaultAnalysisDurationBuckets, "origin")
	m.EntitiesTotal = collector.RegisterCounter("ner_entities_total", "Entities produced", "type", "source")
	m.EntitiesPerText = collector.RegisterHistogram("ner_entities_per_text", "Entities per analysed text", DefaultEntityCountBuckets)
	m.TaggerErrorsTotal = collector.RegisterCounter("ner_tagger_errors_total", "Failed analyses by error code", "code")
	m.ModelReady = collector.RegisterGauge("ner_model_ready", "Tagging model readiness (1=ready)")
	m.LexiconReloadTotal = collector.RegisterCounter("ner_lexicon_reloads_total", "Lexicon reload attempts", "status")

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "operation")
	m.MessagesTotal = collector.RegisterCounter("mq_messages_total", "Messages handled", "topic", "status")
	m.MessageProcessDuration = collector.RegisterHistogram("mq_process_duration_seconds", "Message processing duration", DefaultAnalysisDurationBuckets, "topic")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_type")

	return m
}

// EntityCount is the minimal view of an entity the metrics need.
type EntityCount struct {
	Type   string
	Source string
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordHTTPRequest records one served request.
func (m *NERMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAnalysis records a pipeline run. origin is "http", "worker" or "cli".
func (m *NERMetrics) RecordAnalysis(origin string, success bool, duration time.Duration, entities []EntityCount) {
	m.AnalysesTotal.WithLabelValues(origin, statusLabel(success)).Inc()
	m.AnalysisDuration.WithLabelValues(origin).Observe(duration.Seconds())
	if !success {
		return
	}
	m.EntitiesPerText.WithLabelValues().Observe(float64(len(entities)))
	for _, e := range entities {
		m.EntitiesTotal.WithLabelValues(e.Type, e.Source).Inc()
	}
}

// RecordTaggerError counts a failed analysis by its error code.
func (m *NERMetrics) RecordTaggerError(code string) {
	m.TaggerErrorsTotal.WithLabelValues(code).Inc()
}

// SetModelReady publishes the readiness of the tagging model.
func (m *NERMetrics) SetModelReady(ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	m.ModelReady.WithLabelValues().Set(v)
}

// RecordLexiconReload counts a lexicon reload attempt.
func (m *NERMetrics) RecordLexiconReload(err error) {
	m.LexiconReloadTotal.WithLabelValues(statusLabel(err == nil)).Inc()
}

// RecordCacheAccess counts a cache lookup.
func (m *NERMetrics) RecordCacheAccess(cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordDBQuery records a repository call.
func (m *NERMetrics) RecordDBQuery(operation string, duration time.Duration, err error) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.ErrorsTotal.WithLabelValues("database", "query_error").Inc()
	}
}

// RecordMessage records a consumed or produced message.
func (m *NERMetrics) RecordMessage(topic string, success bool, duration time.Duration) {
	m.MessagesTotal.WithLabelValues(topic, statusLabel(success)).Inc()
	m.MessageProcessDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordError counts an error in a named component.
func (m *NERMetrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
