package ml

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
)

// Session risk flags.
const (
	FlagHighAIRatio    = "HIGH_AI_RATIO"
	FlagBurstAIUsage   = "BURST_AI_USAGE"
	FlagMultiAIService = "MULTI_AI_SERVICES"
	FlagLargeAIPayload = "LARGE_AI_PAYLOAD"
	FlagRapidAIReqs    = "RAPID_AI_REQUESTS"
	FlagHighExfilVel   = "HIGH_EXFIL_VELOCITY"
	FlagAfterHoursAI   = "AFTER_HOURS_AI"
)

const (
	scoreHalfLife   = 10 * time.Minute
	sessionIdleTTL  = 30 * time.Minute
	activityWindow  = 30 * time.Minute
	burstWindow     = time.Minute
	burstThreshold  = 5
	rapidThreshold  = 10
	multiAIServices = 3
	largeAIPayload  = 100_000
	// exfil velocity above 100 KB/min of outbound bytes is suspicious
	exfilVelocityThreshold = 100_000
)

type activityRecord struct {
	at        time.Time
	dest      string
	ai        bool
	bytesSent int64
	afterHrs  bool
}

type session struct {
	score      float64
	scoreAt    time.Time
	lastActive time.Time
	recent     []activityRecord
}

// decayed returns the session score with exponential half-life decay
// applied up to now.
func (s *session) decayed(now time.Time) float64 {
	dt := now.Sub(s.scoreAt)
	if dt <= 0 {
		return s.score
	}
	return s.score * math.Pow(0.5, dt.Seconds()/scoreHalfLife.Seconds())
}

func (s *session) bump(now time.Time, delta float64) {
	s.score = clamp01(s.decayed(now) + delta)
	s.scoreAt = now
}

func (s *session) trim(now time.Time) {
	cutoff := now.Add(-activityWindow)
	i := sort.Search(len(s.recent), func(i int) bool { return s.recent[i].at.After(cutoff) })
	if i > 0 {
		s.recent = append(s.recent[:0], s.recent[i:]...)
	}
}

// Context is the session snapshot attached to alerts.
type Context struct {
	Score         float64
	Flags         []string
	ExfilVelocity float64
}

// SessionTracker keeps per-source behavioral state. Scores decay with a
// 10-minute half-life; sources idle for 30 minutes are evicted.
type SessionTracker struct {
	mu        sync.Mutex
	sessions  map[string]*session
	now       func() time.Time
	lastSweep time.Time
}

// NewSessionTracker builds an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{sessions: make(map[string]*session), now: time.Now}
}

func (t *SessionTracker) get(src string, now time.Time) *session {
	s, ok := t.sessions[src]
	if !ok {
		s = &session{scoreAt: now}
		t.sessions[src] = s
	}
	return s
}

// Record folds one flow into the source's session.
func (t *SessionTracker) Record(evt *flow.Event, aiDest bool) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(evt.SourceIP, now)
	s.lastActive = now
	hour := evt.Timestamp.Hour()
	s.recent = append(s.recent, activityRecord{
		at:        now,
		dest:      evt.DestinationIP,
		ai:        aiDest,
		bytesSent: evt.BytesSent,
		afterHrs:  hour < 8 || hour >= 20,
	})
	s.trim(now)
	if aiDest {
		s.bump(now, 0.05)
	}
	t.sweepLocked(now)
}

// RecordAlert raises the source's score when an alert fires against it.
func (t *SessionTracker) RecordAlert(src string, severity contracts.Severity) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(src, now)
	s.lastActive = now
	switch severity {
	case contracts.SeverityHigh:
		s.bump(now, 0.3)
	case contracts.SeverityMedium:
		s.bump(now, 0.15)
	default:
		s.bump(now, 0.05)
	}
}

// Score returns the decayed session score for src, 0 for unknown sources.
func (t *SessionTracker) Score(src string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[src]
	if !ok {
		return 0
	}
	return s.decayed(t.now())
}

// Snapshot computes the session context for src.
func (t *SessionTracker) Snapshot(src string) Context {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[src]
	if !ok {
		return Context{}
	}
	s.trim(now)

	var aiCount, total int
	var aiBytesMax, sentTotal int64
	var burst, afterHours int
	aiDests := make(map[string]struct{})
	burstCutoff := now.Add(-burstWindow)
	var oldest time.Time
	for i, rec := range s.recent {
		if i == 0 {
			oldest = rec.at
		}
		total++
		sentTotal += rec.bytesSent
		if rec.ai {
			aiCount++
			aiDests[rec.dest] = struct{}{}
			if rec.bytesSent > aiBytesMax {
				aiBytesMax = rec.bytesSent
			}
			if rec.at.After(burstCutoff) {
				burst++
			}
			if rec.afterHrs {
				afterHours++
			}
		}
	}

	var velocity float64
	if total > 0 {
		span := now.Sub(oldest).Minutes()
		if span < 1 {
			span = 1
		}
		velocity = float64(sentTotal) / span
	}

	var flags []string
	if total >= 5 && float64(aiCount)/float64(total) > 0.5 {
		flags = append(flags, FlagHighAIRatio)
	}
	if burst >= burstThreshold {
		flags = append(flags, FlagBurstAIUsage)
	}
	if len(aiDests) >= multiAIServices {
		flags = append(flags, FlagMultiAIService)
	}
	if aiBytesMax > largeAIPayload {
		flags = append(flags, FlagLargeAIPayload)
	}
	if aiCount >= rapidThreshold {
		flags = append(flags, FlagRapidAIReqs)
	}
	if velocity > exfilVelocityThreshold {
		flags = append(flags, FlagHighExfilVel)
	}
	if afterHours > 0 {
		flags = append(flags, FlagAfterHoursAI)
	}

	return Context{Score: s.decayed(now), Flags: flags, ExfilVelocity: velocity}
}

// Len returns the number of tracked sources.
func (t *SessionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *SessionTracker) sweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) < 30*time.Second {
		return
	}
	t.lastSweep = now
	for src, s := range t.sessions {
		if now.Sub(s.lastActive) > sessionIdleTTL {
			delete(t.sessions, src)
		}
	}
}
