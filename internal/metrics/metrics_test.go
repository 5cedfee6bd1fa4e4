package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"sfcfetch/internal/metrics"
)

func TestStepAttemptCounters(t *testing.T) {
	m := metrics.New()
	m.ObserveStepAttempt("search_api", 10*time.Millisecond, nil)
	m.ObserveStepAttempt("search_api", 20*time.Millisecond, errors.New("boom"))
	m.ObserveStepAttempt("search_api", 30*time.Millisecond, nil)
	m.RecordStepOutcome("search_api", metrics.OutcomeCompleted)

	body := scrape(t, m)
	for _, want := range []string{
		`sfcfetch_step_attempts_total{result="success",step="search_api"} 2`,
		`sfcfetch_step_attempts_total{result="error",step="search_api"} 1`,
		`sfcfetch_step_attempt_duration_seconds_count{step="search_api"} 3`,
		`sfcfetch_step_outcomes_total{outcome="completed",step="search_api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output", want)
		}
	}
}

func TestDocumentDiscoveryAndRuns(t *testing.T) {
	m := metrics.New()
	m.RecordDocument("circulars", metrics.OutcomeCompleted)
	m.RecordDocument("circulars", metrics.OutcomeFailed)
	m.RecordDiscovery("circulars", 2, 5)
	m.RunStarted()
	m.RunStarted()
	m.RunFinished()

	if got := testutil.CollectAndCount(m.Registry(), "sfcfetch_documents_processed_total"); got != 2 {
		t.Fatalf("expected two document series, got %d", got)
	}
	body := scrape(t, m)
	for _, want := range []string{
		`sfcfetch_documents_discovered_total{result="new",workflow_type="circulars"} 2`,
		`sfcfetch_documents_discovered_total{result="existing",workflow_type="circulars"} 5`,
		`sfcfetch_workflow_runs_active 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveStepAttempt("x", time.Second, nil)
	m.RecordStepOutcome("x", metrics.OutcomeFailed)
	m.RecordDocument("x", metrics.OutcomeCompleted)
	m.RecordDiscovery("x", 1, 1)
	m.RunStarted()
	m.RunFinished()
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	return string(body)
}
