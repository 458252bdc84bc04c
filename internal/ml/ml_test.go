package ml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
)

func aiEvent() *flow.Event {
	return &flow.Event{
		Timestamp:       time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC),
		SourceIP:        "192.168.1.10",
		DestinationIP:   "104.18.3.161",
		SourcePort:      51000,
		DestinationPort: 443,
		Protocol:        flow.ProtoHTTPS,
		BytesSent:       50_000,
		BytesReceived:   120_000,
		Metadata:        map[string]string{flow.MetaSNI: "api.openai.com"},
	}
}

func TestDisabledEngineIsNeutral(t *testing.T) {
	e := NewEngine(false, nil, nil)
	v := e.Analyze(aiEvent(), true)
	assert.Equal(t, Neutral(), v)
	assert.Zero(t, v.RiskScore)
}

func TestShadowAIClassification(t *testing.T) {
	e := NewEngine(true, nil, nil)
	v := e.Analyze(aiEvent(), true)
	assert.Equal(t, ClassShadowAI, v.Classification)
	assert.GreaterOrEqual(t, v.Confidence, 0.7)
	assert.Greater(t, v.RiskScore, 30.0)
}

func TestInternalTrafficIsNormal(t *testing.T) {
	e := NewEngine(true, nil, nil)
	evt := aiEvent()
	evt.DestinationIP = "192.168.1.20"
	evt.Metadata = nil
	v := e.Analyze(evt, false)
	assert.Equal(t, ClassNormal, v.Classification)
}

func TestFusionRiskBounds(t *testing.T) {
	e := NewEngine(true, nil, nil)
	rapid.Check(t, func(t *rapid.T) {
		evt := &flow.Event{
			Timestamp:       time.Unix(rapid.Int64Range(0, 2_000_000_000).Draw(t, "ts"), 0),
			SourceIP:        "192.168.1.10",
			DestinationIP:   rapid.SampledFrom([]string{"104.18.3.161", "192.168.1.20", "8.8.8.8"}).Draw(t, "dst"),
			DestinationPort: rapid.IntRange(0, 65535).Draw(t, "port"),
			Protocol:        rapid.SampledFrom([]flow.Protocol{flow.ProtoTCP, flow.ProtoUDP, flow.ProtoDNS, flow.ProtoHTTPS}).Draw(t, "proto"),
			BytesSent:       rapid.Int64Range(0, 1<<40).Draw(t, "sent"),
			BytesReceived:   rapid.Int64Range(0, 1<<40).Draw(t, "recv"),
		}
		v := e.Analyze(evt, rapid.Bool().Draw(t, "ai"))
		if v.RiskScore < 0 || v.RiskScore > 100 {
			t.Fatalf("risk out of range: %v", v.RiskScore)
		}
		if v.AnomalyScore < 0 || v.AnomalyScore > 1 {
			t.Fatalf("anomaly out of range: %v", v.AnomalyScore)
		}
		if v.Classification != ClassShadowAI && v.RiskScore > 40+20 {
			// Without a shadow classification the fused score is capped
			// by the anomaly and session terms.
			t.Fatalf("risk %v too high for class %s", v.RiskScore, v.Classification)
		}
	})
}

func TestSessionScoreDecay(t *testing.T) {
	tr := NewSessionTracker()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.RecordAlert("192.168.1.10", contracts.SeverityHigh)
	first := tr.Score("192.168.1.10")
	assert.InDelta(t, 0.3, first, 0.001)

	now = now.Add(10 * time.Minute)
	assert.InDelta(t, 0.15, tr.Score("192.168.1.10"), 0.001, "one half-life halves the score")

	now = now.Add(20 * time.Minute)
	assert.InDelta(t, 0.0375, tr.Score("192.168.1.10"), 0.001)

	assert.Zero(t, tr.Score("10.0.0.99"), "unknown source scores zero")
}

func TestSessionEviction(t *testing.T) {
	tr := NewSessionTracker()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	evt := aiEvent()
	tr.Record(evt, true)
	require.Equal(t, 1, tr.Len())

	now = now.Add(31 * time.Minute)
	evt2 := aiEvent()
	evt2.SourceIP = "192.168.1.11"
	tr.Record(evt2, true)
	assert.Equal(t, 1, tr.Len(), "idle source evicted after 30 minutes")
	assert.Zero(t, tr.Score("192.168.1.10"))
}

func TestSessionFlags(t *testing.T) {
	tr := NewSessionTracker()
	now := time.Date(2026, 8, 24, 22, 0, 0, 0, time.UTC) // after hours
	tr.now = func() time.Time { return now }

	dests := []string{"104.18.3.161", "34.102.136.9", "44.226.1.1"}
	for i := 0; i < 12; i++ {
		evt := aiEvent()
		evt.Timestamp = now
		evt.DestinationIP = dests[i%len(dests)]
		evt.BytesSent = 200_000
		tr.Record(evt, true)
		now = now.Add(2 * time.Second)
	}

	ctx := tr.Snapshot("192.168.1.10")
	assert.Contains(t, ctx.Flags, FlagHighAIRatio)
	assert.Contains(t, ctx.Flags, FlagBurstAIUsage)
	assert.Contains(t, ctx.Flags, FlagMultiAIService)
	assert.Contains(t, ctx.Flags, FlagLargeAIPayload)
	assert.Contains(t, ctx.Flags, FlagRapidAIReqs)
	assert.Contains(t, ctx.Flags, FlagAfterHoursAI)
	assert.Greater(t, ctx.ExfilVelocity, float64(exfilVelocityThreshold))
	assert.Greater(t, ctx.Score, 0.0)
}

func TestExtractBounds(t *testing.T) {
	e := NewEngine(true, nil, nil)
	evt := aiEvent()
	evt.BytesSent = 1 << 50
	f := Extract(FeatureInput{Event: evt, AIDest: true, SessionScore: 5}, e.ja3)
	for i, v := range f {
		assert.GreaterOrEqual(t, v, 0.0, "feature %d", i)
		assert.LessOrEqual(t, v, 1.0, "feature %d", i)
	}
}
