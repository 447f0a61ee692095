// Package metrics exposes Prometheus counters for remote attempts, actions
// and account statuses, plus the /metrics and /healthz endpoints.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"AccountPilot/internal/model"
	"AccountPilot/internal/remote"
)

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	attempts  *prometheus.CounterVec
	actions   *prometheus.CounterVec
	events    *prometheus.CounterVec
	accounts  *prometheus.GaugeVec
	timeline  prometheus.Gauge
	lastCycle prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pilot_remote_attempts_total",
			Help: "Remote call attempts by operation label and outcome kind.",
		}, []string{"label", "outcome"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pilot_actions_total",
			Help: "Finished scheduler actions by kind and result.",
		}, []string{"kind", "result"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pilot_events_total",
			Help: "Event log entries by severity.",
		}, []string{"severity"}),
		accounts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pilot_accounts",
			Help: "Accounts per status.",
		}, []string{"status"}),
		timeline: f.NewGauge(prometheus.GaugeOpts{
			Name: "pilot_timeline_tasks",
			Help: "Tasks currently tracked by the scheduling loop.",
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "pilot_last_status_refresh_timestamp_seconds",
			Help: "Unix time of the last status gauge refresh.",
		}),
	}
}

// ObserveAttempt counts one remote attempt. Matches retry.AttemptHook.
func (m *Metrics) ObserveAttempt(_ string, label string, o remote.Outcome) {
	m.attempts.WithLabelValues(label, o.Kind.String()).Inc()
}

// ObserveAction counts one finished action.
func (m *Metrics) ObserveAction(kind string, success, partial bool) {
	result := "failure"
	switch {
	case success:
		result = "success"
	case partial:
		result = "partial"
	}
	m.actions.WithLabelValues(kind, result).Inc()
}

// ObserveEvent counts one event log entry.
func (m *Metrics) ObserveEvent(e model.Event) {
	m.events.WithLabelValues(string(e.Severity)).Inc()
}

// SetStatusCounts replaces the per-status gauges.
func (m *Metrics) SetStatusCounts(counts map[model.Status]int, timelineTasks int) {
	for _, st := range model.AllStatuses() {
		m.accounts.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
	m.timeline.Set(float64(timelineTasks))
	m.lastCycle.Set(float64(time.Now().Unix()))
}

// Handler returns the HTTP mux serving /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[INFO] metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
