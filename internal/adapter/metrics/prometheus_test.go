package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *LedgerMetrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestLedgerMetrics_Counts(t *testing.T) {
	m := NewLedgerMetrics()

	m.ObserveOperation("check_in", "ok", 3*time.Millisecond)
	m.ObserveOperation("check_in", "ok", 5*time.Millisecond)
	m.ObserveOperation("check_out", "insufficient_stock", time.Millisecond)
	m.ObservePublish("InventoryCheckedIn", "ok")

	body := scrape(t, m)
	assert.Contains(t, body, `ledger_operations_total{operation="check_in",outcome="ok"} 2`)
	assert.Contains(t, body, `ledger_operations_total{operation="check_out",outcome="insufficient_stock"} 1`)
	assert.Contains(t, body, `ledger_events_published_total{outcome="ok",type="InventoryCheckedIn"} 1`)
	assert.Contains(t, body, `ledger_operation_duration_seconds_count{operation="check_in"} 2`)
}

func TestLedgerMetrics_RuntimeCollectors(t *testing.T) {
	m := NewLedgerMetrics()

	assert.Contains(t, scrape(t, m), "go_goroutines")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
