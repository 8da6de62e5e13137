package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestObserveAttachRecordsObservation(t *testing.T) {
	start := time.Now()
	time.Sleep(5 * time.Millisecond)
	ObserveAttach(start, "ok")

	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() != "eunomia_attach_duration_ms" {
			continue
		}
		found = true
		if len(mf.Metric) == 0 {
			t.Fatalf("attach_duration_ms metric has no samples")
		}
		if got := mf.Metric[0].GetHistogram().GetSampleCount(); got == 0 {
			t.Fatalf("expected histogram sample count > 0, got %d", got)
		}
	}
	if !found {
		t.Fatalf("eunomia_attach_duration_ms not found")
	}
}

func TestMetricsEndpointExposesCoreMetrics(t *testing.T) {
	ObservePackageOpen("ok")
	ObservePollIteration("ringbuf")
	ObserveExportRecord("plain")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "eunomia_package_open_total") {
		t.Fatalf("expected package_open_total counter, body: %s", body)
	}
	if !strings.Contains(body, "eunomia_up") {
		t.Fatalf("expected up gauge, body: %s", body)
	}
}
