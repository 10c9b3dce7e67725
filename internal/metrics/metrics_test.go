package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestInstrumentHandlerRecordsMetrics(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/swap", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	if !metricCounterGreaterOrEqual(t, "custodian_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/v1/swap",
		"status": "202",
	}, 1) {
		t.Fatalf("expected http request counter to increment")
	}

	if !metricHistogramCountGreaterOrEqual(t, "custodian_http_request_duration_seconds", map[string]string{
		"method": "GET",
		"path":   "/v1/swap",
	}, 1) {
		t.Fatalf("expected http duration histogram to record samples")
	}
}

func TestInstrumentHandlerMetricsPathPassthrough(t *testing.T) {
	called := false
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected /metrics path to pass through to handler")
	}
}

func TestRecordSwapOutcome(t *testing.T) {
	RecordSwapOutcome("submitted", 2*time.Second)
	if !metricCounterGreaterOrEqual(t, "custodian_swap_outcomes_total", map[string]string{"outcome": "submitted"}, 1) {
		t.Fatal("expected swap outcome counter to increment")
	}
	if !metricHistogramCountGreaterOrEqual(t, "custodian_swap_duration_seconds", map[string]string{"outcome": "submitted"}, 1) {
		t.Fatal("expected swap duration histogram to record")
	}

	RecordSwapOutcome("", time.Second)
	if !metricCounterGreaterOrEqual(t, "custodian_swap_outcomes_total", map[string]string{"outcome": "unknown"}, 1) {
		t.Fatal("expected empty outcome to fall back to unknown")
	}
}

func TestRecordSchedulerTick(t *testing.T) {
	RecordSchedulerTick("ran", 3)
	if !metricCounterGreaterOrEqual(t, "custodian_scheduler_ticks_total", map[string]string{"outcome": "ran"}, 1) {
		t.Fatal("expected scheduler tick counter to increment")
	}
	if !metricHistogramCountGreaterOrEqual(t, "custodian_scheduler_catchup_intervals", nil, 1) {
		t.Fatal("expected catchup histogram to record a sample")
	}

	RecordSchedulerTick("skipped", 0)
	if !metricCounterGreaterOrEqual(t, "custodian_scheduler_ticks_total", map[string]string{"outcome": "skipped"}, 1) {
		t.Fatal("expected skipped outcome to increment")
	}
}

func TestRecordRateLimitDenied(t *testing.T) {
	RecordRateLimitDenied()
	if !metricCounterGreaterOrEqual(t, "custodian_ratelimit_denied_total", nil, 1) {
		t.Fatal("expected rate limit denial counter to increment")
	}
}

func TestRecordCacheAccess(t *testing.T) {
	RecordCacheAccess("balance", true)
	if !metricCounterGreaterOrEqual(t, "custodian_cache_accesses_total", map[string]string{"cache": "balance", "result": "hit"}, 1) {
		t.Fatal("expected cache hit counter to increment")
	}
	RecordCacheAccess("balance", false)
	if !metricCounterGreaterOrEqual(t, "custodian_cache_accesses_total", map[string]string{"cache": "balance", "result": "miss"}, 1) {
		t.Fatal("expected cache miss counter to increment")
	}
}

func TestHandler(t *testing.T) {
	h := Handler()
	if h == nil {
		t.Fatal("Handler() should return non-nil handler")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics response")
	}
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"/healthz", "/healthz"},
		{"/v1/swap", "/v1/swap"},
		{"/v1/dca/start", "/v1/dca"},
		{"/v1/authorized/42", "/v1/authorized/:id"},
		{"/secret/abc123", "/secret/:token"},
		{"/import/abc123", "/import/:token"},
		{"v1/swap", "/v1/swap"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := canonicalPath(tt.input)
			if result != tt.expected {
				t.Errorf("canonicalPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusNotFound)
	if sr.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", sr.status)
	}

	rec2 := httptest.NewRecorder()
	sr2 := &statusRecorder{ResponseWriter: rec2, status: 0}
	n, err := sr2.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written, got %d", n)
	}
	if sr2.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", sr2.status)
	}
}

func metricCounterGreaterOrEqual(t *testing.T, name string, labels map[string]string, min float64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetCounter() != nil {
				return metric.GetCounter().GetValue() >= min
			}
		}
	}
	return false
}

func metricHistogramCountGreaterOrEqual(t *testing.T, name string, labels map[string]string, min uint64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetHistogram() != nil {
				return metric.GetHistogram().GetSampleCount() >= min
			}
		}
	}
	return false
}

func labelsMatch(metric *io_prometheus_client.Metric, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	matched := 0
	for _, lbl := range metric.GetLabel() {
		if val, ok := labels[lbl.GetName()]; ok && val == lbl.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}
