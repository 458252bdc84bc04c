package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.InMemory = true
	cfg.Port = freePort(t)
	cfg.Seed = 42
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	rt, err := New(testConfig(t), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer rt.closeComponents()

	assert.Equal(t, "demo", rt.Mode())
	assert.Equal(t, Version, rt.Version())
	assert.Zero(t, rt.Uptime())
	assert.NotNil(t, rt.Policies())
	assert.NotNil(t, rt.Blocklist())
	assert.Empty(t, rt.Alerts())

	nodes, err := rt.Nodes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestNewRejectsBadPrefix(t *testing.T) {
	cfg := testConfig(t)
	cfg.LocalPrefixes = []string{"bogus"}
	_, err := New(cfg, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestStartServesAPIAndStops(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)

	require.NoError(t, rt.Start(context.Background()))
	defer rt.Stop()

	assert.Error(t, rt.Start(context.Background()), "double start is rejected")

	url := fmt.Sprintf("http://127.0.0.1:%d/v1/status", cfg.Port)
	var status map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK &&
			json.NewDecoder(resp.Body).Decode(&status) == nil
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, "demo", status["mode"])
	assert.Equal(t, "dev", status["version"])

	// The simulator feeds the pipeline; the graph fills up on its own.
	require.Eventually(t, func() bool {
		nodes, err := rt.Nodes(context.Background())
		return err == nil && len(nodes) > 0
	}, 5*time.Second, 100*time.Millisecond)

	rt.Stop()
	assert.NoError(t, rt.Wait())

	_, err = http.Get(url)
	assert.Error(t, err, "server is down after stop")
}

func TestStartFailsWhenPortTaken(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	require.NoError(t, err)
	defer ln.Close()

	rt, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer rt.closeComponents()

	err = rt.Start(context.Background())
	assert.ErrorIs(t, err, ErrBind)
}
