package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/defense"
	"github.com/shadow-hunter/shadowhunter-go/internal/detect"
	"github.com/shadow-hunter/shadowhunter-go/internal/events"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
	"github.com/shadow-hunter/shadowhunter-go/internal/graph"
	"github.com/shadow-hunter/shadowhunter-go/internal/ml"
)

type testPipeline struct {
	analyzer *Analyzer
	store    graph.Store
	broker   *events.Broker
	response *defense.Manager
}

func setupTestPipeline(t *testing.T, opts Options) (*testPipeline, func()) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	broker := events.NewBroker(64, logger)
	store := graph.NewMemoryStore()
	response := defense.NewManager(func(e defense.ResponseEvent) {
		broker.Publish(events.TopicResponses, e)
	}, logger)
	engine := ml.NewEngine(true, nil, logger)
	a := New(opts, store, broker, detect.NewPolicyStore(), engine, nil, response, nil, logger)
	cleanup := func() {
		response.Close()
		broker.Close()
		store.Close()
	}
	return &testPipeline{analyzer: a, store: store, broker: broker, response: response}, cleanup
}

func shadowFlow() *flow.Event {
	return &flow.Event{
		Timestamp:       time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC),
		SourceIP:        "192.168.1.10",
		DestinationIP:   "104.18.3.161",
		SourcePort:      51000,
		DestinationPort: 443,
		Protocol:        flow.ProtoHTTPS,
		BytesSent:       50_000,
		BytesReceived:   120_000,
		Metadata: map[string]string{
			flow.MetaSNI:        "api.openai.com",
			flow.MetaDepartment: "Finance",
		},
	}
}

func TestShadowAIFlowEmitsHighAlert(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{})
	defer cleanup()
	a := p.analyzer

	a.process(shadowFlow())

	alerts := a.Ring().Snapshot()
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, contracts.SeverityHigh, alert.Severity)
	assert.Equal(t, "ai_domain:openai.com", alert.MatchedRule)
	assert.Equal(t, "192.168.1.10", alert.SourceIP)
	assert.Equal(t, 51000, alert.SourcePort)
	assert.Equal(t, "api.openai.com", alert.DestinationLabel)
	assert.Equal(t, int64(50_000), alert.BytesSent)
	assert.Equal(t, int64(120_000), alert.BytesReceived)
	assert.Equal(t, ml.ClassShadowAI, alert.MLClassification)
	assert.Equal(t, StageAccess, alert.KillChainStage)
	assert.NotEmpty(t, alert.ID)

	// The destination is labeled shadow in the graph.
	dst, err := p.store.GetNode(context.Background(), "104.18.3.161")
	require.NoError(t, err)
	assert.Equal(t, graph.NodeShadow, dst.Type)
	assert.Equal(t, "api.openai.com", dst.Label)

	src, err := p.store.GetNode(context.Background(), "192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, graph.NodeInternal, src.Type)
	assert.Equal(t, "Finance", src.Department)
	assert.Equal(t, 1, src.AlertCount)
	assert.InDelta(t, 30, src.RiskScore, 0.001)

	assert.Equal(t, StateFlagged, a.State("192.168.1.10"))
}

func TestWhitelistedFlowIsIgnored(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{})
	defer cleanup()

	evt := &flow.Event{
		Timestamp:       time.Now(),
		SourceIP:        "192.168.1.10",
		DestinationIP:   "192.168.1.20",
		DestinationPort: 60123,
		Protocol:        flow.ProtoTCP,
	}
	p.analyzer.process(evt)

	assert.Empty(t, p.analyzer.Ring().Snapshot())
	nodes, err := p.store.ListNodes(context.Background(), graph.NodeFilter{})
	require.NoError(t, err)
	assert.Empty(t, nodes, "whitelisted flows never touch the graph")
}

func TestInvalidEventIsDropped(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{})
	defer cleanup()

	p.analyzer.process(&flow.Event{SourceIP: "garbage", DestinationIP: "104.18.3.161"})
	assert.Empty(t, p.analyzer.Ring().Snapshot())
}

func TestReplayIsIdempotentOnGraph(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{})
	defer cleanup()

	for i := 0; i < 3; i++ {
		p.analyzer.process(shadowFlow())
	}

	nodes, err := p.store.ListNodes(context.Background(), graph.NodeFilter{})
	require.NoError(t, err)
	assert.Len(t, nodes, 2, "replays merge into the same nodes")

	edges, err := p.store.ListEdges(context.Background())
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(3), edges[0].FlowCount)
	assert.Equal(t, int64(3*170_000), edges[0].ByteCount)
}

func TestNodeRiskConverges(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{})
	defer cleanup()

	var prev float64
	for i := 0; i < 50; i++ {
		p.analyzer.process(shadowFlow())
		node, err := p.store.GetNode(context.Background(), "192.168.1.10")
		require.NoError(t, err)
		assert.LessOrEqual(t, node.RiskScore, 100.0)
		assert.GreaterOrEqual(t, node.RiskScore, prev)
		prev = node.RiskScore
	}
	// Fixed point of r = 0.9r + 30 is 300, so the cap keeps it at 100.
	assert.InDelta(t, 100, prev, 0.5)
}

func TestPolicyBlockTriggersResponse(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{})
	defer cleanup()
	a := p.analyzer

	evt := shadowFlow()
	evt.Metadata[flow.MetaSNI] = "chatgpt.com"
	evt.DestinationIP = "93.184.216.34"
	a.process(evt)

	assert.True(t, p.response.IsBlocked("93.184.216.34"), "block policy fires against the external destination")

	assert.Eventually(t, func() bool {
		return a.State("93.184.216.34") == StateQuarantined
	}, 2*time.Second, 10*time.Millisecond, "response event quarantines the target")
}

func TestCriticalRiskBlocksWithoutPolicy(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{CriticalRisk: 40})
	defer cleanup()

	evt := shadowFlow()
	evt.SourceIP = "192.168.1.77" // no Finance policy match for this source
	delete(evt.Metadata, flow.MetaDepartment)
	p.analyzer.process(evt)

	alerts := p.analyzer.Ring().Snapshot()
	require.Len(t, alerts, 1)
	require.GreaterOrEqual(t, alerts[0].RiskScore, 40.0)
	assert.True(t, p.response.IsBlocked("104.18.3.161"))
}

func TestProbeOutcomeAnnotatesAlert(t *testing.T) {
	confirmed := false
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if confirmed && r.URL.Path == "/v1/models" {
			fmt.Fprint(w, `{"data":[{"id":"gpt-4o"}]}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	target := strings.TrimPrefix(srv.URL, "https://")

	p, cleanup := setupTestPipeline(t, Options{})
	defer cleanup()
	a := p.analyzer
	a.probe = defense.NewInterrogator(true, nil, zap.NewNop().Sugar())

	a.ring.Append(contracts.Alert{ID: "a1", Description: "shadow AI traffic"})
	a.runProbe(target, "a1")
	assert.Contains(t, a.Ring().Snapshot()[0].Description, "[unconfirmed]",
		"completed probe without AI indicators still annotates the alert")

	confirmed = true
	a.probe = defense.NewInterrogator(true, nil, zap.NewNop().Sugar())
	a.ring.Append(contracts.Alert{ID: "a2", Description: "shadow AI traffic"})
	a.runProbe(target, "a2")
	assert.Contains(t, a.Ring().Snapshot()[0].Description, "active probe confirmed AI service")
}

func TestStartStopRoundTrip(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{Workers: 2})
	defer cleanup()
	a := p.analyzer

	var received []contracts.Alert
	done := make(chan struct{})
	p.broker.Subscribe(events.TopicAlerts, func(msg any) {
		received = append(received, msg.(contracts.Alert))
		close(done)
	})

	require.NoError(t, a.Start(context.Background()))
	p.broker.Publish(events.TopicTraffic, shadowFlow())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("no alert published")
	}
	require.Len(t, received, 1)
	assert.Equal(t, contracts.SeverityHigh, received[0].Severity)

	a.Stop()
	require.NoError(t, a.Start(context.Background()), "restart after stop is allowed")
	assert.Error(t, a.Start(context.Background()), "double start is rejected")
	a.Stop()
}

func TestStopClosesResponseSubscription(t *testing.T) {
	p, cleanup := setupTestPipeline(t, Options{Workers: 1})
	defer cleanup()
	a := p.analyzer

	require.NoError(t, a.Start(context.Background()))
	a.Stop()

	p.broker.Publish(events.TopicResponses, defense.ResponseEvent{Action: "blocked", IP: "203.0.113.7"})
	assert.Never(t, func() bool {
		return a.State("203.0.113.7") == StateQuarantined
	}, 200*time.Millisecond, 20*time.Millisecond, "no delivery after stop")

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()
	p.broker.Publish(events.TopicResponses, defense.ResponseEvent{Action: "blocked", IP: "203.0.113.8"})
	assert.Eventually(t, func() bool {
		return a.State("203.0.113.8") == StateQuarantined
	}, 2*time.Second, 10*time.Millisecond, "restart re-attaches the subscription")
}

func TestFiveTuplePartitioningIsStable(t *testing.T) {
	evt := shadowFlow()
	idx := evt.PartitionKey() % 4
	for i := 0; i < 100; i++ {
		assert.Equal(t, idx, evt.PartitionKey()%4)
	}
}

func TestAlertRingEviction(t *testing.T) {
	r := NewAlertRing(3)
	for i := 0; i < 5; i++ {
		r.Append(contracts.Alert{ID: fmt.Sprintf("a%d", i)})
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a4", snap[0].ID, "newest first")
	assert.Equal(t, "a2", snap[2].ID, "oldest two evicted")
	assert.Equal(t, 3, r.Len())

	assert.True(t, r.Amend("a3", " extra"))
	assert.False(t, r.Amend("a0", " gone"))
}

func TestStageFor(t *testing.T) {
	tests := []struct {
		rule, class, want string
	}{
		{"ai_domain:openai.com", "shadow_ai", StageAccess},
		{"cidr:34.102.136.0/24", "", StageAccess},
		{"rule-default-1", "", StageAccess},
		{"ja3_client:curl", "", StageExecution},
		{"ja3_malware:cobalt-strike", "", StageImpact},
		{"identity_spoofing", "", StageImpact},
		{"dns_tunneling", "", StageExfil},
		{"data_exfiltration", "", StageExfil},
		{"abnormal_outbound_port", "", StageRecon},
		{"", "shadow_ai", StageAccess},
		{"", "suspicious", StageRecon},
	}
	for _, tt := range tests {
		got := StageFor(tt.rule, tt.class)
		assert.Equal(t, tt.want, got, "%s/%s", tt.rule, tt.class)
		assert.Contains(t, KillChainStages, got, "every stage is in the documented set")
	}
}
