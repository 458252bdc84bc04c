package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
)

// Profile anomaly labels.
const (
	AnomalyAfterHours   = "AFTER_HOURS_ACTIVITY"
	AnomalySingleTarget = "SINGLE_TARGET_FOCUS"
	AnomalyHighSeverity = "HIGH_SEVERITY_RATIO"
)

// Profile is one source's behavioral summary over the alert window.
type Profile struct {
	IP             string         `json:"ip"`
	AlertCount     int            `json:"alert_count"`
	BySeverity     map[string]int `json:"by_severity"`
	TopTargets     []string       `json:"top_targets"`
	HourlyActivity [24]int        `json:"hourly_activity"`
	Anomalies      []string       `json:"anomalies,omitempty"`
}

// Profiles builds per-source behavior profiles, sorted by alert count.
func Profiles(alerts []contracts.Alert) []Profile {
	type acc struct {
		profile Profile
		targets map[string]int
	}
	byIP := make(map[string]*acc)
	for _, a := range alerts {
		p, ok := byIP[a.SourceIP]
		if !ok {
			p = &acc{profile: Profile{IP: a.SourceIP, BySeverity: map[string]int{}}, targets: map[string]int{}}
			byIP[a.SourceIP] = p
		}
		p.profile.AlertCount++
		p.profile.BySeverity[string(a.Severity)]++
		p.profile.HourlyActivity[a.Timestamp.Hour()]++
		target := a.DestinationLabel
		if target == "" {
			target = a.DestinationIP
		}
		p.targets[target]++
	}

	out := make([]Profile, 0, len(byIP))
	for _, p := range byIP {
		type tc struct {
			name  string
			count int
		}
		targets := make([]tc, 0, len(p.targets))
		maxTarget := 0
		for name, count := range p.targets {
			targets = append(targets, tc{name, count})
			if count > maxTarget {
				maxTarget = count
			}
		}
		sort.Slice(targets, func(i, j int) bool {
			if targets[i].count != targets[j].count {
				return targets[i].count > targets[j].count
			}
			return targets[i].name < targets[j].name
		})
		for i, t := range targets {
			if i == 5 {
				break
			}
			p.profile.TopTargets = append(p.profile.TopTargets, t.name)
		}

		total := p.profile.AlertCount
		afterHours := 0
		for h, c := range p.profile.HourlyActivity {
			if h < 8 || h >= 20 {
				afterHours += c
			}
		}
		if total > 0 {
			if float64(afterHours)/float64(total) >= 0.3 {
				p.profile.Anomalies = append(p.profile.Anomalies, AnomalyAfterHours)
			}
			if float64(maxTarget)/float64(total) >= 0.7 {
				p.profile.Anomalies = append(p.profile.Anomalies, AnomalySingleTarget)
			}
			if float64(p.profile.BySeverity[string(contracts.SeverityHigh)])/float64(total) >= 0.3 {
				p.profile.Anomalies = append(p.profile.Anomalies, AnomalyHighSeverity)
			}
		}
		out = append(out, p.profile)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AlertCount != out[j].AlertCount {
			return out[i].AlertCount > out[j].AlertCount
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// sessionGap splits two alerts into separate sessions.
const sessionGap = 5 * time.Minute

// Session is a run of closely spaced alerts from one source.
type Session struct {
	SourceIP    string             `json:"source_ip"`
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	DurationSec float64            `json:"duration_seconds"`
	AlertCount  int                `json:"alert_count"`
	MaxSeverity contracts.Severity `json:"max_severity"`
	Services    []string           `json:"services,omitempty"`
}

// Sessions groups alerts into per-source runs separated by gaps over five
// minutes. Runs with fewer than two alerts are omitted.
func Sessions(alerts []contracts.Alert) []Session {
	bySource := make(map[string][]contracts.Alert)
	for _, a := range alerts {
		bySource[a.SourceIP] = append(bySource[a.SourceIP], a)
	}

	var out []Session
	for src, list := range bySource {
		sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		var cur *Session
		services := make(map[string]struct{})
		flush := func() {
			if cur != nil && cur.AlertCount >= 2 {
				for s := range services {
					cur.Services = append(cur.Services, s)
				}
				sort.Strings(cur.Services)
				cur.DurationSec = cur.End.Sub(cur.Start).Seconds()
				out = append(out, *cur)
			}
			cur = nil
			services = make(map[string]struct{})
		}
		for _, a := range list {
			if cur == nil || a.Timestamp.Sub(cur.End) > sessionGap {
				flush()
				cur = &Session{SourceIP: src, Start: a.Timestamp, End: a.Timestamp, MaxSeverity: a.Severity}
			}
			cur.End = a.Timestamp
			cur.AlertCount++
			cur.MaxSeverity = contracts.MaxSeverity(cur.MaxSeverity, a.Severity)
			if a.DestinationLabel != "" {
				services[a.DestinationLabel] = struct{}{}
			}
		}
		flush()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// DLP incident classification thresholds and patterns.
const dlpBulkBytes = 1 << 20

var dlpPatterns = []struct {
	kind     string
	keywords []string
}{
	{"pii", []string{"ssn", "social security", "credit card", "passport"}},
	{"secret", []string{"password", "api key", "api_key", "token", "credential", "secret"}},
	{"code", []string{"source code", "repository", ".git", "proprietary code"}},
	{"document", []string{"document", "spreadsheet", "pdf", "confidential"}},
}

// DLPIncident is one suspected data-loss event derived from an alert.
type DLPIncident struct {
	AlertID   string    `json:"alert_id"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip"`
	Target    string    `json:"target"`
	Kind      string    `json:"kind"`
	BytesSent int64     `json:"bytes_sent"`
}

// DLPReport summarizes suspected data loss.
type DLPReport struct {
	Incidents  []DLPIncident  `json:"incidents"`
	TotalBytes int64          `json:"total_bytes"`
	ByKind     map[string]int `json:"by_kind"`
}

// DLP extracts data-loss incidents: bulk transfers above 1 MB sent, and
// alerts whose description matches a sensitive-content pattern.
func DLP(alerts []contracts.Alert) DLPReport {
	report := DLPReport{ByKind: map[string]int{}}
	for _, a := range alerts {
		kind := ""
		desc := strings.ToLower(a.Description)
		for _, p := range dlpPatterns {
			for _, kw := range p.keywords {
				if strings.Contains(desc, kw) {
					kind = p.kind
					break
				}
			}
			if kind != "" {
				break
			}
		}
		if kind == "" && a.BytesSent > dlpBulkBytes {
			kind = "bulk_transfer"
		}
		if kind == "" {
			continue
		}
		target := a.DestinationLabel
		if target == "" {
			target = a.DestinationIP
		}
		report.Incidents = append(report.Incidents, DLPIncident{
			AlertID:   a.ID,
			Timestamp: a.Timestamp,
			SourceIP:  a.SourceIP,
			Target:    target,
			Kind:      kind,
			BytesSent: a.BytesSent,
		})
		report.TotalBytes += a.BytesSent
		report.ByKind[kind]++
	}
	return report
}
