// Package analytics derives read-model views from alert and graph
// snapshots. Every function is pure: snapshots in, report out.
package analytics

import (
	"sort"
	"time"

	"github.com/shadow-hunter/shadowhunter-go/internal/analyzer"
	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
	"github.com/shadow-hunter/shadowhunter-go/internal/graph"
)

// RiskScore ranks one internal source by alert pressure and fan-out.
type RiskScore struct {
	IP         string  `json:"ip"`
	Department string  `json:"department,omitempty"`
	Score      float64 `json:"score"`
	High       int     `json:"high"`
	Medium     int     `json:"medium"`
	Low        int     `json:"low"`
	EdgeCount  int     `json:"edge_count"`
}

// RiskScores computes per-source risk:
// min(100, 5*high + 2*medium + low + 0.05*edges), sorted descending.
func RiskScores(alerts []contracts.Alert, edges []*graph.Edge, nodes []*graph.Node) []RiskScore {
	depts := make(map[string]string)
	for _, n := range nodes {
		if n.Department != "" {
			depts[n.ID] = n.Department
		}
	}
	edgeCount := make(map[string]int)
	for _, e := range edges {
		edgeCount[e.Source]++
	}

	byIP := make(map[string]*RiskScore)
	for _, a := range alerts {
		if !flow.IsInternal(a.SourceIP) {
			continue
		}
		rs, ok := byIP[a.SourceIP]
		if !ok {
			rs = &RiskScore{IP: a.SourceIP, Department: depts[a.SourceIP]}
			byIP[a.SourceIP] = rs
		}
		switch a.Severity {
		case contracts.SeverityHigh:
			rs.High++
		case contracts.SeverityMedium:
			rs.Medium++
		default:
			rs.Low++
		}
	}

	out := make([]RiskScore, 0, len(byIP))
	for ip, rs := range byIP {
		rs.EdgeCount = edgeCount[ip]
		score := 5*float64(rs.High) + 2*float64(rs.Medium) + float64(rs.Low) + 0.05*float64(rs.EdgeCount)
		if score > 100 {
			score = 100
		}
		rs.Score = score
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// TrafficStats summarizes the current graph and alert volume.
type TrafficStats struct {
	TotalNodes      int            `json:"total_nodes"`
	NodesByType     map[string]int `json:"nodes_by_type"`
	TotalEdges      int            `json:"total_edges"`
	TotalBytes      int64          `json:"total_bytes"`
	TotalFlows      int64          `json:"total_flows"`
	AlertCount      int            `json:"alert_count"`
	ShadowServers   int            `json:"shadow_servers"`
	Protocols       map[string]int `json:"protocol_distribution"`
	Severities      map[string]int `json:"severity_distribution"`
	TopDestinations []Destination  `json:"top_destinations"`
}

// Destination is one ranked alert target.
type Destination struct {
	Label      string `json:"label"`
	AlertCount int    `json:"alert_count"`
}

// Stats computes the traffic overview.
func Stats(nodes []*graph.Node, edges []*graph.Edge, alerts []contracts.Alert) TrafficStats {
	st := TrafficStats{
		TotalNodes:  len(nodes),
		NodesByType: make(map[string]int),
		TotalEdges:  len(edges),
		AlertCount:  len(alerts),
		Protocols:   make(map[string]int),
		Severities:  make(map[string]int),
	}
	for _, n := range nodes {
		st.NodesByType[string(n.Type)]++
		if n.Type == graph.NodeShadow {
			st.ShadowServers++
		}
	}
	for _, e := range edges {
		st.TotalBytes += e.ByteCount
		st.TotalFlows += e.FlowCount
		if e.Protocol != "" {
			st.Protocols[e.Protocol]++
		}
	}
	dests := make(map[string]int)
	for _, a := range alerts {
		st.Severities[string(a.Severity)]++
		label := a.DestinationLabel
		if label == "" {
			label = a.DestinationIP
		}
		dests[label]++
	}
	for label, n := range dests {
		st.TopDestinations = append(st.TopDestinations, Destination{Label: label, AlertCount: n})
	}
	sort.Slice(st.TopDestinations, func(i, j int) bool {
		if st.TopDestinations[i].AlertCount != st.TopDestinations[j].AlertCount {
			return st.TopDestinations[i].AlertCount > st.TopDestinations[j].AlertCount
		}
		return st.TopDestinations[i].Label < st.TopDestinations[j].Label
	})
	if len(st.TopDestinations) > 10 {
		st.TopDestinations = st.TopDestinations[:10]
	}
	return st
}

// TimelineBucket is one minute of alert activity.
type TimelineBucket struct {
	Minute time.Time      `json:"minute"`
	Count  int            `json:"count"`
	Counts map[string]int `json:"by_severity"`
}

// Timeline buckets the last 60 minutes of alerts into 1-minute slots,
// oldest first. Empty minutes are present with zero counts.
func Timeline(alerts []contracts.Alert, now time.Time) []TimelineBucket {
	start := now.Truncate(time.Minute).Add(-59 * time.Minute)
	buckets := make([]TimelineBucket, 60)
	for i := range buckets {
		buckets[i] = TimelineBucket{
			Minute: start.Add(time.Duration(i) * time.Minute),
			Counts: map[string]int{},
		}
	}
	for _, a := range alerts {
		ts := a.Timestamp.Truncate(time.Minute)
		idx := int(ts.Sub(start) / time.Minute)
		if idx < 0 || idx >= 60 {
			continue
		}
		buckets[idx].Count++
		buckets[idx].Counts[string(a.Severity)]++
	}
	return buckets
}

// StageStat is one kill-chain stage's activity.
type StageStat struct {
	Stage   string   `json:"stage"`
	Count   int      `json:"count"`
	Sources []string `json:"sources,omitempty"`
}

// KillChain is the aggregate kill-chain view.
type KillChain struct {
	Stages          []StageStat `json:"stages"`
	TotalAlerts     int         `json:"total_alerts"`
	ActiveStages    int         `json:"active_stages"`
	ChainCompletion int         `json:"chain_completion"`
}

// KillChainReport maps alerts onto the five-stage chain. Completion is
// 20 points per stage with at least one alert.
func KillChainReport(alerts []contracts.Alert) KillChain {
	counts := make(map[string]int)
	sources := make(map[string]map[string]struct{})
	for _, a := range alerts {
		stage := a.KillChainStage
		if stage == "" {
			stage = analyzer.StageRecon
		}
		counts[stage]++
		if sources[stage] == nil {
			sources[stage] = make(map[string]struct{})
		}
		sources[stage][a.SourceIP] = struct{}{}
	}

	kc := KillChain{TotalAlerts: len(alerts)}
	for _, stage := range analyzer.KillChainStages {
		stat := StageStat{Stage: stage, Count: counts[stage]}
		for src := range sources[stage] {
			stat.Sources = append(stat.Sources, src)
		}
		sort.Strings(stat.Sources)
		if stat.Count > 0 {
			kc.ActiveStages++
		}
		kc.Stages = append(kc.Stages, stat)
	}
	kc.ChainCompletion = 20 * kc.ActiveStages
	return kc
}
