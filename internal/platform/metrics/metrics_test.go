package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: expected 200, got %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestMetrics_counters_and_gauge(t *testing.T) {
	m := New()
	m.IncChunksFinalized()
	m.IncChunksFinalized()
	m.IncChunksDiscarded()
	m.AddFramesCaptured(7)
	m.IncCaptureFailures()
	m.IncSegmentsServed()
	m.IncFramesServed()

	out := scrape(t, m, func() { m.SetActiveCaptures(3) })

	for _, want := range []string{
		"cctv_chunks_finalized_total 2",
		"cctv_chunks_discarded_total 1",
		"cctv_frames_captured_total 7",
		"cctv_capture_failures_total 1",
		"cctv_segments_served_total 1",
		"cctv_frames_served_total 1",
		"cctv_active_captures 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	out := scrape(t, m, nil)
	if !strings.Contains(out, "cctv_requests_total 2") {
		t.Errorf("expected 2 requests: %s", out)
	}
	if !strings.Contains(out, "cctv_errors_total 1") {
		t.Errorf("expected 1 error: %s", out)
	}
}

func TestRequestMiddleware_nil_metrics(t *testing.T) {
	called := false
	h := RequestMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil metrics middleware should pass through")
	}
}
