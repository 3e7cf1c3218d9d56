package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus collectors of the chat pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	turnsTotal    *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	stageFailures *prometheus.CounterVec
	llmCalls      *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	enhancerCache *prometheus.CounterVec
	searchResults prometheus.Histogram
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// turnsTotal counts chat turns by outcome
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopassist_chat_turns_total",
			Help: "Total chat turns by outcome",
		}, []string{"outcome"}), // "ok", "degraded", "rejected", "cancelled"

		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopassist_chat_turn_duration_seconds",
			Help:    "Chat turn duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopassist_stage_failures_total",
			Help: "Total pipeline stage failures by stage",
		}, []string{"stage"}),

		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopassist_llm_calls_total",
			Help: "Total chat backend calls by backend and result",
		}, []string{"backend", "result"}),

		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopassist_llm_call_duration_seconds",
			Help:    "Chat backend call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"backend"}),

		enhancerCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopassist_intent_cache_lookups_total",
			Help: "Intent enhancer cache lookups by result",
		}, []string{"result"}), // "hit" or "miss"

		searchResults: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopassist_search_results",
			Help:    "Number of products returned per catalog search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
	}
}

// ObserveTurn records a finished chat turn.
func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// StageFailed records a failure of the named pipeline stage.
func (m *Metrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// ObserveLLMCall records one backend call.
func (m *Metrics) ObserveLLMCall(backend string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.llmCalls.WithLabelValues(backend, result).Inc()
	m.llmDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// CacheLookup records an intent cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.enhancerCache.WithLabelValues("hit").Inc()
		return
	}
	m.enhancerCache.WithLabelValues("miss").Inc()
}

// ObserveSearch records the size of a catalog search result.
func (m *Metrics) ObserveSearch(n int) {
	if m == nil {
		return
	}
	m.searchResults.Observe(float64(n))
}
