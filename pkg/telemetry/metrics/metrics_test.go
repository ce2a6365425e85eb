package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fakeyw/gemini-proxy/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Helper function to create test config
func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:                true,
		Namespace:              "test",
		RequestDurationBuckets: []float64{0.1, 0.5, 1.0, 5.0},
	}
}

// TestCollector_NewCollector tests collector creation
func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)

	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}
	if NewCollector(&config.MetricsConfig{Enabled: true}, nil).Registry() == nil {
		t.Error("Expected a registry to be created")
	}
}

// TestCollector_RecordRequest tests request recording
func TestCollector_RecordRequest(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordRequest("gemini", ModePooled, 200, 300*time.Millisecond)
	collector.RecordRequest("gemini", ModePooled, 200, 1200*time.Millisecond)
	collector.RecordRequest("openai", ModeDirect, 502, 10*time.Millisecond)

	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("gemini", ModePooled, "200")); got != 2 {
		t.Errorf("Expected 2 pooled gemini requests, got %v", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("openai", ModeDirect, "502")); got != 1 {
		t.Errorf("Expected 1 direct openai failure, got %v", got)
	}
	if got := testutil.CollectAndCount(collector.requestDuration); got != 2 {
		t.Errorf("Expected 2 duration series, got %d", got)
	}
}

// TestCollector_KeyPoolMetrics tests acquisition, exhaustion and bookkeeping counters
func TestCollector_KeyPoolMetrics(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordAcquisition(AcquireOK)
	collector.RecordAcquisition(AcquireOK)
	collector.RecordAcquisition(AcquireExhausted)
	collector.RecordExhaustion("gemini-pro")
	collector.RecordBookkeepingFailure("increment_usage")
	collector.RecordUpstreamAttempt("gemini", 429)
	collector.RecordReset(nil)
	collector.RecordReset(errors.New("boom"))

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"acquired", collector.keyAcquisitions.WithLabelValues(AcquireOK), 2},
		{"exhausted", collector.keyAcquisitions.WithLabelValues(AcquireExhausted), 1},
		{"exhaustion", collector.keyExhaustions.WithLabelValues("gemini-pro"), 1},
		{"bookkeeping", collector.bookkeepingFailures.WithLabelValues("increment_usage"), 1},
		{"attempt", collector.upstreamAttempts.WithLabelValues("gemini", "429"), 1},
		{"reset success", collector.poolResets.WithLabelValues("success"), 1},
		{"reset error", collector.poolResets.WithLabelValues("error"), 1},
	}

	for _, tt := range checks {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

// TestCollector_Disabled tests that a disabled or nil collector records nothing
func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, nil)

	collector.RecordRequest("gemini", ModePooled, 200, time.Second)
	collector.RecordAcquisition(AcquireOK)

	if got := testutil.CollectAndCount(collector.requestsTotal); got != 0 {
		t.Errorf("Expected no series when disabled, got %d", got)
	}

	var nilCollector *Collector
	nilCollector.RecordRequest("gemini", ModePooled, 200, time.Second)
	nilCollector.RecordExhaustion("m")
}

// TestCollector_ModelCardinality tests that excess model labels fold into "other"
func TestCollector_ModelCardinality(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.models = NewCardinalityLimiter(2)

	for i := 0; i < 5; i++ {
		collector.RecordExhaustion(fmt.Sprintf("model-%d", i))
	}

	if got := testutil.ToFloat64(collector.keyExhaustions.WithLabelValues(otherModel)); got != 3 {
		t.Errorf("Expected 3 folded exhaustions, got %v", got)
	}
	if got := testutil.CollectAndCount(collector.keyExhaustions); got != 3 {
		t.Errorf("Expected 3 series (2 models + other), got %d", got)
	}
}

// TestCardinalityLimiter tests the limiter directly
func TestCardinalityLimiter(t *testing.T) {
	limiter := NewCardinalityLimiter(2)

	if !limiter.Allow("a") || !limiter.Allow("b") {
		t.Fatal("Expected first two values to be allowed")
	}
	if limiter.Allow("c") {
		t.Error("Expected third value to be rejected")
	}
	if !limiter.Allow("a") {
		t.Error("Expected existing value to be allowed")
	}
	if limiter.Count() != 2 {
		t.Errorf("Expected count 2, got %d", limiter.Count())
	}
}

// TestCollector_Handler tests the exposition endpoint
func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.RecordAcquisition(AcquireOK)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_key_acquisitions_total") {
		t.Errorf("Expected exposition to contain acquisitions metric, got %s", rec.Body.String())
	}
}

// TestCollector_ConcurrentRecording tests concurrent updates
func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordRequest("openai", ModePooled, 200, time.Millisecond)
			collector.RecordExhaustion("gpt-4o")
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("openai", ModePooled, "200")); got != 50 {
		t.Errorf("Expected 50 requests, got %v", got)
	}
}
