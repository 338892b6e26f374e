package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveChapter(t *testing.T) {
	Init()
	Init()

	ObserveChapter("https://chapter-metrics.test/manga/a", OutcomeArchived, 12, 4096)
	ObserveChapter("https://chapter-metrics.test/manga/a", OutcomeSkipped, 99, 99)

	if val := testutil.ToFloat64(chaptersTotal.WithLabelValues("chapter-metrics.test", OutcomeArchived)); val != 1 {
		t.Errorf("expected 1 archived chapter, got %f", val)
	}
	if val := testutil.ToFloat64(chaptersTotal.WithLabelValues("chapter-metrics.test", OutcomeSkipped)); val != 1 {
		t.Errorf("expected 1 skipped chapter, got %f", val)
	}
	if val := testutil.ToFloat64(pagesTotal.WithLabelValues("chapter-metrics.test")); val != 12 {
		t.Errorf("expected skipped chapters not to add pages, got %f", val)
	}
	if val := testutil.ToFloat64(archiveBytesTotal.WithLabelValues("chapter-metrics.test")); val != 4096 {
		t.Errorf("expected 4096 bytes, got %f", val)
	}
}

func TestObserveSweep(t *testing.T) {
	finished := time.Unix(1_700_000_000, 0)
	ObserveSweep("wake", 3*time.Second, finished)

	if val := testutil.ToFloat64(sweepsTotal.WithLabelValues("wake")); val < 1 {
		t.Errorf("expected wake sweep counted, got %f", val)
	}
	if val := testutil.ToFloat64(lastSweepTimestamp); val != float64(finished.Unix()) {
		t.Errorf("expected last sweep timestamp %d, got %f", finished.Unix(), val)
	}
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/mw-ok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/mw-missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	for _, path := range []string{"/mw-ok", "/mw-missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")); val != before+1 {
		t.Errorf("expected one 418 request recorded, got %f", val-before)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
