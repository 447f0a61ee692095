package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"AccountPilot/internal/model"
	"AccountPilot/internal/remote"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveAttempt("acc", "purchase", remote.Retryable("503"))
	m.ObserveAttempt("acc", "purchase", remote.OK(nil))
	m.ObserveAction("COMPOSITE", false, true)
	m.ObserveAction("ROUND", true, false)
	m.ObserveEvent(model.Event{Severity: model.SeverityPartial})

	out := scrape(t, m)
	for _, want := range []string{
		`pilot_remote_attempts_total{label="purchase",outcome="retryable"} 1`,
		`pilot_remote_attempts_total{label="purchase",outcome="ok"} 1`,
		`pilot_actions_total{kind="COMPOSITE",result="partial"} 1`,
		`pilot_actions_total{kind="ROUND",result="success"} 1`,
		`pilot_events_total{severity="PARTIAL"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestStatusGauges(t *testing.T) {
	m := New()
	m.SetStatusCounts(map[model.Status]int{model.StatusActiveBusy: 2, model.StatusError: 1}, 7)

	out := scrape(t, m)
	for _, want := range []string{
		`pilot_accounts{status="ACTIVE_BUSY"} 2`,
		`pilot_accounts{status="ERROR"} 1`,
		`pilot_accounts{status="IDLE"} 0`,
		`pilot_timeline_tasks 7`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHealthz(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 || rec.Body.String() != "ok" {
		t.Errorf("healthz: got %d %q", rec.Code, rec.Body.String())
	}
}
