package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label == "" {
				return metric.GetCounter().GetValue()
			}
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RunFinished(StatusSuccess)
	m.RunFinished(StatusSuccess)
	m.RunFinished(StatusFailed)
	m.ItemsBuilt(12)
	m.ItemsBuilt(0)
	m.RowsDropped(DropZeroTIV, 3)
	m.ArtifactWritten("items", 20*time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, m, "gulprep_runs_total", "status", StatusSuccess))
	assert.Equal(t, 1.0, counterValue(t, m, "gulprep_runs_total", "status", StatusFailed))
	assert.Equal(t, 12.0, counterValue(t, m, "gulprep_items_built_total", "", ""))
	assert.Equal(t, 3.0, counterValue(t, m, "gulprep_rows_dropped_total", "reason", DropZeroTIV))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ArtifactWritten("coverages", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `gulprep_artifact_write_seconds_count{artifact="coverages"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RunFinished(StatusRejected)
	m.ItemsBuilt(1)
	m.RowsDropped(DropNoValue, 1)
	m.ArtifactWritten("items", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
