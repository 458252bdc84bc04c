package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/detect"
	"github.com/shadow-hunter/shadowhunter-go/internal/graph"
)

// Check outcomes.
const (
	CheckPass = "pass"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// ComplianceCheck is one control evaluation.
type ComplianceCheck struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// FrameworkResult scores one framework: 100 * passed / total checks.
type FrameworkResult struct {
	Framework string            `json:"framework"`
	Score     float64           `json:"score"`
	Checks    []ComplianceCheck `json:"checks"`
}

// ComplianceReport covers all frameworks plus the averaged overall score.
type ComplianceReport struct {
	Overall    float64           `json:"overall_score"`
	Frameworks []FrameworkResult `json:"frameworks"`
}

type alertTallies struct {
	total       int
	high        int
	shadowAI    int
	exfil       int
	afterHours  int
	gdprTagged  int
	hipaaTagged int
}

func tally(alerts []contracts.Alert) alertTallies {
	var t alertTallies
	for _, a := range alerts {
		t.total++
		if a.Severity == contracts.SeverityHigh {
			t.high++
		}
		if a.MLClassification == "shadow_ai" || a.Category != "" && a.KillChainStage == "initial_access" {
			t.shadowAI++
		}
		if a.KillChainStage == "exfiltration" {
			t.exfil++
		}
		h := a.Timestamp.Hour()
		if h < 8 || h >= 20 {
			t.afterHours++
		}
		if a.Intel != nil {
			for _, tag := range a.Intel.ComplianceTags {
				switch tag {
				case "GDPR":
					t.gdprTagged++
				case "HIPAA-BAA":
					t.hipaaTagged++
				}
			}
		}
	}
	return t
}

func statusFor(violations int, warnAt, failAt int) (string, string) {
	switch {
	case violations >= failAt:
		return CheckFail, fmt.Sprintf("%d violations", violations)
	case violations >= warnAt:
		return CheckWarn, fmt.Sprintf("%d violations", violations)
	default:
		return CheckPass, ""
	}
}

// Compliance evaluates SOC2, GDPR, and HIPAA control sets against the
// current alert window and policy table.
func Compliance(alerts []contracts.Alert, rules []detect.PolicyRule) ComplianceReport {
	t := tally(alerts)
	enabledBlocks := 0
	for _, r := range rules {
		if r.Enabled && r.Action == detect.ActionBlock {
			enabledBlocks++
		}
	}

	mk := func(id, name string, violations, warnAt, failAt int) ComplianceCheck {
		status, detail := statusFor(violations, warnAt, failAt)
		return ComplianceCheck{ID: id, Name: name, Status: status, Detail: detail}
	}

	soc2 := []ComplianceCheck{
		mk("soc2-monitoring", "Network activity monitoring in place", 0, 1, 1),
		mk("soc2-shadow-ai", "Unsanctioned AI service usage", t.shadowAI, 1, 10),
		mk("soc2-exfil", "Data egress anomalies", t.exfil, 1, 5),
	}
	if enabledBlocks == 0 {
		soc2 = append(soc2, ComplianceCheck{ID: "soc2-enforcement", Name: "Blocking policies configured", Status: CheckWarn, Detail: "no enabled block rules"})
	} else {
		soc2 = append(soc2, ComplianceCheck{ID: "soc2-enforcement", Name: "Blocking policies configured", Status: CheckPass})
	}

	gdpr := []ComplianceCheck{
		mk("gdpr-transfer", "Personal data sent to third-party AI processors", t.gdprTagged+t.shadowAI, 1, 10),
		mk("gdpr-exfil", "Uncontrolled personal data egress", t.exfil, 1, 3),
		mk("gdpr-after-hours", "Unattended off-hours processing", t.afterHours, 3, 15),
	}

	hipaa := []ComplianceCheck{
		mk("hipaa-phi", "PHI exposure to non-BAA AI services", t.hipaaTagged, 1, 1),
		mk("hipaa-shadow-ai", "Unvetted AI services in clinical workflows", t.shadowAI, 1, 5),
		mk("hipaa-high", "High-severity incidents", t.high, 1, 10),
	}

	score := func(checks []ComplianceCheck) float64 {
		pass := 0
		for _, c := range checks {
			if c.Status == CheckPass {
				pass++
			}
		}
		return 100 * float64(pass) / float64(len(checks))
	}

	report := ComplianceReport{
		Frameworks: []FrameworkResult{
			{Framework: "SOC2", Checks: soc2, Score: score(soc2)},
			{Framework: "GDPR", Checks: gdpr, Score: score(gdpr)},
			{Framework: "HIPAA", Checks: hipaa, Score: score(hipaa)},
		},
	}
	for _, f := range report.Frameworks {
		report.Overall += f.Score
	}
	report.Overall /= float64(len(report.Frameworks))
	return report
}

// Threat levels for the executive briefing.
const (
	ThreatLow      = "LOW"
	ThreatElevated = "ELEVATED"
	ThreatHigh     = "HIGH"
	ThreatCritical = "CRITICAL"
)

// Briefing is the executive summary of the current window.
type Briefing struct {
	GeneratedAt     time.Time `json:"generated_at"`
	ThreatLevel     string    `json:"threat_level"`
	Overview        string    `json:"overview"`
	ShadowAISummary string    `json:"shadow_ai_summary"`
	TopActor        string    `json:"top_actor,omitempty"`
	Recommendations []string  `json:"recommendations"`
}

// BriefingReport composes the executive briefing from the alert window.
func BriefingReport(alerts []contracts.Alert, now time.Time) Briefing {
	t := tally(alerts)
	kc := KillChainReport(alerts)

	level := ThreatLow
	switch {
	case kc.ChainCompletion >= 80 || t.high >= 20:
		level = ThreatCritical
	case t.high >= 5 || kc.ChainCompletion >= 60:
		level = ThreatHigh
	case t.total > 0:
		level = ThreatElevated
	}

	var topActor string
	if profiles := Profiles(alerts); len(profiles) > 0 {
		topActor = profiles[0].IP
	}

	b := Briefing{
		GeneratedAt: now,
		ThreatLevel: level,
		Overview: fmt.Sprintf("%d alerts in window: %d high severity, %d shadow AI detections, %d exfiltration indicators.",
			t.total, t.high, t.shadowAI, t.exfil),
		ShadowAISummary: fmt.Sprintf("Shadow AI activity observed in %d alerts; kill chain %d%% complete across %d active stages.",
			t.shadowAI, kc.ChainCompletion, kc.ActiveStages),
		TopActor: topActor,
	}
	if t.shadowAI > 0 {
		b.Recommendations = append(b.Recommendations, "Review unsanctioned AI service usage with the identified sources.")
	}
	if t.exfil > 0 {
		b.Recommendations = append(b.Recommendations, "Investigate outbound transfer volumes flagged as exfiltration.")
	}
	if t.high > 0 {
		b.Recommendations = append(b.Recommendations, "Triage high-severity alerts and confirm blocklist coverage.")
	}
	if len(b.Recommendations) == 0 {
		b.Recommendations = append(b.Recommendations, "No action required; continue monitoring.")
	}
	return b
}

// Report is the full JSON policy report aggregate.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Stats       TrafficStats     `json:"stats"`
	RiskScores  []RiskScore      `json:"risk_scores"`
	KillChain   KillChain        `json:"kill_chain"`
	Compliance  ComplianceReport `json:"compliance"`
	DLP         DLPReport        `json:"dlp"`
	Briefing    Briefing         `json:"briefing"`
	TopServices []ServiceCount   `json:"top_services"`
}

// ServiceCount ranks a destination service by alert volume.
type ServiceCount struct {
	Service string `json:"service"`
	Count   int    `json:"count"`
}

// FullReport assembles every analytics view into one document.
func FullReport(alerts []contracts.Alert, nodes []*graph.Node, edges []*graph.Edge, rules []detect.PolicyRule, now time.Time) Report {
	services := make(map[string]int)
	for _, a := range alerts {
		if a.DestinationLabel != "" {
			services[a.DestinationLabel]++
		}
	}
	top := make([]ServiceCount, 0, len(services))
	for s, c := range services {
		top = append(top, ServiceCount{Service: s, Count: c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Service < top[j].Service
	})
	if len(top) > 10 {
		top = top[:10]
	}

	return Report{
		GeneratedAt: now,
		Stats:       Stats(nodes, edges, alerts),
		RiskScores:  RiskScores(alerts, edges, nodes),
		KillChain:   KillChainReport(alerts),
		Compliance:  Compliance(alerts, rules),
		DLP:         DLP(alerts),
		Briefing:    BriefingReport(alerts, now),
		TopServices: top,
	}
}
