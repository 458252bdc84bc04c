package ml

import (
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
	"github.com/shadow-hunter/shadowhunter-go/internal/intel"
)

// Classifications produced by the engine.
const (
	ClassNormal     = "normal"
	ClassSuspicious = "suspicious"
	ClassShadowAI   = "shadow_ai"
)

// Verdict is the intelligence layer's output for one flow.
type Verdict struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	AnomalyScore   float64 `json:"anomaly_score"`
	RiskScore      float64 `json:"risk_score"`
}

// Neutral is the cold-start verdict: no model, no opinion.
func Neutral() Verdict {
	return Verdict{Classification: ClassNormal}
}

// Engine fuses anomaly, classification, and session signals into a single
// risk score. When disabled it returns Neutral() for everything and the
// orchestrator falls back to rules alone.
type Engine struct {
	enabled  bool
	ja3      *intel.JA3Matcher
	sessions *SessionTracker
	logger   *zap.SugaredLogger
}

// NewEngine builds the engine. A nil tracker gets a fresh one.
func NewEngine(enabled bool, sessions *SessionTracker, logger *zap.SugaredLogger) *Engine {
	if sessions == nil {
		sessions = NewSessionTracker()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{enabled: enabled, ja3: intel.NewJA3Matcher(), sessions: sessions, logger: logger}
}

// Sessions exposes the shared tracker so the orchestrator can record
// alerts and attach session context.
func (e *Engine) Sessions() *SessionTracker { return e.sessions }

// Enabled reports whether scoring is active.
func (e *Engine) Enabled() bool { return e.enabled }

// Analyze scores one flow. aiDest marks destinations already attributed to
// an AI service by the knowledge bases.
func (e *Engine) Analyze(evt *flow.Event, aiDest bool) Verdict {
	if !e.enabled {
		return Neutral()
	}
	sessionScore := e.sessions.Score(evt.SourceIP)
	f := Extract(FeatureInput{Event: evt, AIDest: aiDest, SessionScore: sessionScore}, e.ja3)

	anomaly := e.anomalyScore(f)
	class, conf := e.classify(evt, f, aiDest)

	var shadowConf float64
	if class == ClassShadowAI {
		shadowConf = conf
	}
	risk := 40*anomaly + 40*shadowConf + 20*sessionScore
	if risk < 0 {
		risk = 0
	}
	if risk > 100 {
		risk = 100
	}
	return Verdict{Classification: class, Confidence: conf, AnomalyScore: anomaly, RiskScore: risk}
}

// anomalyScore is a weighted heuristic over the feature vector: external
// destination, odd port, payload volume, and after-hours timing.
func (e *Engine) anomalyScore(f [FeatureDim]float64) float64 {
	external := f[5]
	unusualPort := (1 - f[4]) * external
	volume := (f[0] + f[1]) / 2
	afterHours := f[7]
	score := 0.35*external + 0.2*unusualPort + 0.25*volume + 0.2*afterHours
	return clamp01(score)
}

func (e *Engine) classify(evt *flow.Event, f [FeatureDim]float64, aiDest bool) (string, float64) {
	external := f[5] == 1
	automation := f[13] == 1
	unusualPort := f[4] == 0

	switch {
	case external && aiDest:
		return ClassShadowAI, 0.9
	case external && automation && evt.BytesSent > 10_000:
		return ClassShadowAI, 0.75
	case external && automation:
		return ClassSuspicious, 0.6
	case external && unusualPort:
		return ClassSuspicious, 0.55
	default:
		return ClassNormal, 0.8
	}
}
