package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTurn("ok", 120*time.Millisecond)
	m.ObserveTurn("degraded", time.Second)
	m.ObserveTurn("ok", 80*time.Millisecond)
	m.StageFailed("search")
	m.ObserveLLMCall("openai", nil, time.Second)
	m.ObserveLLMCall("openai", errors.New("boom"), time.Second)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.ObserveSearch(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("openai", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enhancerCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.enhancerCache.WithLabelValues("miss")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn("ok", time.Second)
		m.StageFailed("search")
		m.ObserveLLMCall("openai", nil, time.Second)
		m.CacheLookup(true)
		m.ObserveSearch(0)
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
