package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ksachdeva/probability/pkg/models"
	"github.com/ksachdeva/probability/pkg/store"
)

func TestExporterServesRunMetrics(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	run := &models.Run{
		ID: uuid.New().String(),
		Spec: models.KernelSpec{
			Target: "std-normal", Dims: 1, StepSize: 0.5, NumResults: 10,
		},
		Status:    models.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := st.AppendSamples(run.ID, []*models.Sample{
		{RunID: run.ID, Index: 0, State: []float64{1}},
		{RunID: run.ID, Index: 1, State: []float64{2}},
	}); err != nil {
		t.Fatalf("AppendSamples() error = %v", err)
	}

	exporter := NewExporter(st)
	rec := httptest.NewRecorder()
	exporter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"probability_uptime_seconds",
		`probability_runs_total{status="queued"} 1`,
		`probability_runs_total{status="failed"} 0`,
		"probability_queue_length 1",
		"probability_draws_total 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
