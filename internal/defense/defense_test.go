package defense

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T) (*Manager, *[]ResponseEvent, func()) {
	t.Helper()
	var mu sync.Mutex
	events := &[]ResponseEvent{}
	m := NewManager(func(e ResponseEvent) {
		mu.Lock()
		*events = append(*events, e)
		mu.Unlock()
	}, nil)
	return m, events, m.Close
}

func TestBlockAndExpiry(t *testing.T) {
	m, events, cleanup := setupTestManager(t)
	defer cleanup()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	entry, err := m.Block("203.0.113.7", "critical alert", "alert-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), entry.ExpiresAt)
	assert.True(t, m.IsBlocked("203.0.113.7"))
	assert.Len(t, m.List(), 1)

	// Past the TTL the entry is invisible even before the sweeper runs.
	now = now.Add(time.Hour + time.Second)
	assert.False(t, m.IsBlocked("203.0.113.7"))
	assert.Empty(t, m.List())

	m.expire()
	stats := m.Snapshot()
	assert.Equal(t, uint64(1), stats.TotalBlocked)
	assert.Equal(t, uint64(1), stats.TotalExpired)
	assert.Equal(t, 0, stats.ActiveBlocks)

	require.GreaterOrEqual(t, len(*events), 2)
	assert.Equal(t, "blocked", (*events)[0].Action)
	assert.Equal(t, "expired", (*events)[len(*events)-1].Action)
}

func TestBlockRefreshesTTL(t *testing.T) {
	m, _, cleanup := setupTestManager(t)
	defer cleanup()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Block("203.0.113.7", "first", "", time.Minute)
	require.NoError(t, err)
	now = now.Add(50 * time.Second)
	entry, err := m.Block("203.0.113.7", "again", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), entry.ExpiresAt, "re-block refreshes expiry")
	assert.Len(t, m.List(), 1)
}

func TestSafelistRefusal(t *testing.T) {
	m, events, cleanup := setupTestManager(t)
	defer cleanup()

	for _, ip := range []string{"8.8.8.8", "1.1.1.1", "192.168.1.1", "127.0.0.1", "224.0.0.251", "255.255.255.255"} {
		_, err := m.Block(ip, "should not happen", "", 0)
		assert.ErrorIs(t, err, ErrSafelisted, ip)
	}
	_, err := m.Block("not-an-ip", "x", "", 0)
	assert.ErrorIs(t, err, ErrBadAddress)

	assert.Empty(t, *events, "refused blocks publish nothing")
	assert.Equal(t, uint64(6), m.Snapshot().TotalRefused)
}

func TestUnblock(t *testing.T) {
	m, _, cleanup := setupTestManager(t)
	defer cleanup()

	_, err := m.Block("203.0.113.7", "alert", "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, m.Unblock("203.0.113.7"))
	assert.False(t, m.IsBlocked("203.0.113.7"))
	assert.ErrorIs(t, m.Unblock("203.0.113.7"), ErrNotBlocked)

	audit := m.Audit()
	require.Len(t, audit, 2)
	assert.Equal(t, "blocked", audit[0].Action)
	assert.Equal(t, "unblocked", audit[1].Action)
}

func TestProbeGuards(t *testing.T) {
	i := NewInterrogator(true, func(ip string) bool { return ip == "203.0.113.9" }, nil)
	ctx := context.Background()

	_, err := i.Probe(ctx, "192.168.1.50")
	assert.ErrorIs(t, err, ErrProbeSkipped, "internal targets are never probed")

	_, err = i.Probe(ctx, "203.0.113.9")
	assert.ErrorIs(t, err, ErrProbeSkipped, "blocked targets are never probed")

	_, err = i.Probe(ctx, "224.0.0.251")
	assert.ErrorIs(t, err, ErrProbeSkipped, "multicast targets are never probed")

	off := NewInterrogator(false, nil, nil)
	_, err = off.Probe(ctx, "203.0.113.10")
	assert.ErrorIs(t, err, ErrProbeSkipped)

	_, skipped := i.Stats()
	assert.Equal(t, uint64(3), skipped)
}

func TestProbeBudgetAndCooldown(t *testing.T) {
	i := NewInterrogator(true, nil, nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	i.now = func() time.Time { return now }

	for n := 0; n < 10; n++ {
		require.NoError(t, i.admit(fmt.Sprintf("203.0.113.%d", n)), "probe %d within budget", n)
	}
	err := i.admit("203.0.113.99")
	assert.ErrorIs(t, err, ErrProbeSkipped, "11th probe in a minute is dropped")
	assert.Contains(t, err.Error(), "budget")

	// The rolling window frees up, the per-target cooldown does not.
	now = now.Add(2 * time.Minute)
	assert.NoError(t, i.admit("203.0.113.99"))
	err = i.admit("203.0.113.1")
	assert.ErrorIs(t, err, ErrProbeSkipped, "same target within 5 minutes hits cooldown")

	now = now.Add(5 * time.Minute)
	assert.NoError(t, i.admit("203.0.113.1"))
}

func TestProbeConfirmsModelEndpoint(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	target := strings.TrimPrefix(srv.URL, "https://")
	i := NewInterrogator(true, nil, nil)
	res, err := i.Probe(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Contains(t, res.Indicators, "models_endpoint")
}

func TestProbeConfirmsVendorHeaders(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("OpenAI-Organization", "org-abc")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"missing api key"}`)
	}))
	defer srv.Close()

	target := strings.TrimPrefix(srv.URL, "https://")
	i := NewInterrogator(true, nil, nil)
	res, err := i.Probe(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Contains(t, res.Indicators, "header:openai-organization")
}

func TestProbeUnconfirmedServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	target := strings.TrimPrefix(srv.URL, "https://")
	i := NewInterrogator(true, nil, nil)
	res, err := i.Probe(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
}

func TestHasModelList(t *testing.T) {
	assert.True(t, hasModelList([]byte(`{"data":[{"id":"llama-3"}]}`)))
	assert.False(t, hasModelList([]byte(`{"data":[]}`)))
	assert.False(t, hasModelList([]byte(`{"data":[{"name":"x"}]}`)))
	assert.False(t, hasModelList([]byte(`not json`)))
	assert.False(t, hasModelList([]byte(`[]`)))
}
