package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics(nil)
	m.EventProcessed("alerted")
	m.AlertEmitted("HIGH")
	m.SetRingSize(7)

	var drops uint64 = 3
	m.WatchBrokerDrops(func() uint64 { return drops })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `shadowhunter_events_processed_total{outcome="alerted"} 1`)
	assert.Contains(t, body, `shadowhunter_alerts_total{severity="HIGH"} 1`)
	assert.Contains(t, body, "shadowhunter_alert_ring_size 7")
	assert.Contains(t, body, "shadowhunter_broker_dropped_total 3")

	// The function is sampled on every scrape, not copied once.
	drops = 5
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "shadowhunter_broker_dropped_total 5")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.EventProcessed("x")
	m.EventDropped("x")
	m.AlertEmitted("LOW")
	m.StoreFailure()
	m.DetectorPanic()
	m.Probe("skipped")
	m.SetActiveBlocks(1)
	m.SetRingSize(1)
	m.WSClientConnected()
	m.WSClientDisconnected()
	m.WatchBrokerDrops(func() uint64 { return 0 })
	assert.NotNil(t, m.Handler())
}
