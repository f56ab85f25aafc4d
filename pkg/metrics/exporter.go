package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/ksachdeva/probability/pkg/models"
	"github.com/ksachdeva/probability/pkg/store"
)

// Exporter exposes run metrics in Prometheus text format at /metrics
type Exporter struct {
	store     store.Store
	startTime time.Time
}

// NewExporter creates a new metrics exporter
func NewExporter(s store.Store) *Exporter {
	return &Exporter{
		store:     s,
		startTime: time.Now(),
	}
}

// ServeHTTP serves Prometheus-compatible metrics
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	rm, err := e.store.RunMetrics()
	if err != nil {
		http.Error(w, fmt.Sprintf("Error collecting run metrics: %v", err), http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "# HELP probability_uptime_seconds Time since the daemon started\n")
	fmt.Fprintf(w, "# TYPE probability_uptime_seconds gauge\n")
	fmt.Fprintf(w, "probability_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	// Always export all statuses (even if count is 0)
	allStatuses := []models.RunStatus{
		models.RunStatusQueued,
		models.RunStatusRunning,
		models.RunStatusCompleted,
		models.RunStatusFailed,
		models.RunStatusCanceled,
	}
	fmt.Fprintf(w, "\n# HELP probability_runs_total Total number of runs by status\n")
	fmt.Fprintf(w, "# TYPE probability_runs_total gauge\n")
	for _, status := range allStatuses {
		fmt.Fprintf(w, "probability_runs_total{status=\"%s\"} %d\n", status, rm.RunsByStatus[status])
	}

	fmt.Fprintf(w, "\n# HELP probability_active_runs Number of currently running chains\n")
	fmt.Fprintf(w, "# TYPE probability_active_runs gauge\n")
	fmt.Fprintf(w, "probability_active_runs %d\n", rm.ActiveRuns)

	fmt.Fprintf(w, "\n# HELP probability_queue_length Number of runs waiting for a worker\n")
	fmt.Fprintf(w, "# TYPE probability_queue_length gauge\n")
	fmt.Fprintf(w, "probability_queue_length %d\n", rm.QueueLength)

	fmt.Fprintf(w, "\n# HELP probability_draws_total Total surfaced draws across all runs\n")
	fmt.Fprintf(w, "# TYPE probability_draws_total counter\n")
	fmt.Fprintf(w, "probability_draws_total %d\n", rm.TotalDraws)

	fmt.Fprintf(w, "\n# HELP probability_acceptance_rate_avg Average acceptance rate over finished runs\n")
	fmt.Fprintf(w, "# TYPE probability_acceptance_rate_avg gauge\n")
	fmt.Fprintf(w, "probability_acceptance_rate_avg %.4f\n", rm.AvgAcceptanceRate)

	// Append metrics registered with the Prometheus default registry
	// (worker counters and Go runtime metrics)
	fmt.Fprintf(w, "\n")

	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}
	w.Write(buf.Bytes())
}
