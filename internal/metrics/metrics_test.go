package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("/test-record", OutcomeOK, time.Millisecond)
	RecordRequest("/test-record", OutcomeOK, 2*time.Millisecond)
	RecordRequest("/test-record", OutcomeFallback, time.Millisecond)

	if got := getMetricValue(t, RequestsTotal, "/test-record", OutcomeOK); got != 2 {
		t.Errorf("ok requests = %v, want 2", got)
	}
	if got := getMetricValue(t, RequestsTotal, "/test-record", OutcomeFallback); got != 1 {
		t.Errorf("fallback requests = %v, want 1", got)
	}
}

func TestRootMountLabel(t *testing.T) {
	RecordRequest("", OutcomeNotModified, time.Millisecond)

	if got := getMetricValue(t, RequestsTotal, "/", OutcomeNotModified); got < 1 {
		t.Errorf("root mount requests = %v, want >= 1", got)
	}
}

func TestRecordBytes(t *testing.T) {
	RecordBytes("/test-bytes", 100)
	RecordBytes("/test-bytes", 50)

	if got := getMetricValue(t, ResponseBytes, "/test-bytes"); got != 150 {
		t.Errorf("bytes = %v, want 150", got)
	}
}

func TestUpdateAssetSet(t *testing.T) {
	UpdateAssetSet("/test-set", 3, 2048)
	UpdateAssetSet("/test-set", 4, 4096)

	if got := getGaugeValue(t, LoadedAssets, "/test-set"); got != 4 {
		t.Errorf("loaded assets = %v, want 4", got)
	}
	if got := getGaugeValue(t, LoadedBytes, "/test-set"); got != 4096 {
		t.Errorf("loaded bytes = %v, want 4096", got)
	}
}

func TestRecordSourceOperations(t *testing.T) {
	RecordSourceLoad("bucket", 10*time.Millisecond)
	RecordSourceError("test-kind")

	if got := getMetricValue(t, SourceErrors, "test-kind"); got != 1 {
		t.Errorf("source errors = %v, want 1", got)
	}
}

func TestMiddlewareTracksActiveRequests(t *testing.T) {
	var during float64
	h := Middleware("/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = gaugeValue(t, ActiveRequests)
	}))

	before := gaugeValue(t, ActiveRequests)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/index.html", nil))

	if during != before+1 {
		t.Errorf("active requests during = %v, want %v", during, before+1)
	}
	if after := gaugeValue(t, ActiveRequests); after != before {
		t.Errorf("active requests after = %v, want %v", after, before)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if during != before {
		t.Errorf("metrics endpoint should not be counted, got %v want %v", during, before)
	}
}

func TestMetricsAreRegistered(t *testing.T) {
	metrics := []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		ResponseBytes,
		LoadedAssets,
		LoadedBytes,
		SourceLoadDuration,
		SourceErrors,
		ActiveRequests,
	}

	for _, metric := range metrics {
		if metric == nil {
			t.Error("found nil metric")
		}

		ch := make(chan *prometheus.Desc, 10)
		metric.Describe(ch)
		close(ch)

		count := 0
		for range ch {
			count++
		}
		if count == 0 {
			t.Errorf("metric has no descriptors: %T", metric)
		}
	}
}

func TestMetricsEndpointOutput(t *testing.T) {
	RecordRequest("/test-endpoint", OutcomeOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `embedserve_requests_total{mount="/test-endpoint",outcome="ok"}`) {
		t.Error("metrics output missing recorded request")
	}
}

func getMetricValue(t *testing.T, collector prometheus.Collector, labelValues ...string) float64 {
	t.Helper()

	for _, metric := range collect(collector) {
		if metric.Counter != nil && hasLabels(metric, labelValues) {
			return metric.Counter.GetValue()
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, collector prometheus.Collector, labelValues ...string) float64 {
	t.Helper()

	for _, metric := range collect(collector) {
		if metric.Gauge != nil && hasLabels(metric, labelValues) {
			return metric.Gauge.GetValue()
		}
	}
	return 0
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("writing gauge: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func collect(collector prometheus.Collector) []*dto.Metric {
	ch := make(chan prometheus.Metric, 100)
	collector.Collect(ch)
	close(ch)

	var out []*dto.Metric
	for m := range ch {
		metric := &dto.Metric{}
		if err := m.Write(metric); err != nil {
			continue
		}
		out = append(out, metric)
	}
	return out
}

func hasLabels(metric *dto.Metric, values []string) bool {
	if len(metric.Label) != len(values) {
		return false
	}
	for i, label := range metric.Label {
		if label.GetValue() != values[i] {
			return false
		}
	}
	return true
}
