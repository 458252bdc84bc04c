// Package contracts holds the wire-level types shared between the analyzer
// pipeline, the HTTP API, and the WebSocket stream.
package contracts

import "time"

// Severity is the triage level attached to alerts and rule hits.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities for max-merge comparisons. Unknown values rank
// below LOW so a malformed severity never wins a merge.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// IntelContext carries threat-intel enrichment attached to an alert when the
// destination matched a known provider range.
type IntelContext struct {
	Provider       string   `json:"provider"`
	Service        string   `json:"service"`
	DataRisk       string   `json:"data_risk,omitempty"`
	ComplianceTags []string `json:"compliance_tags,omitempty"`
}

// Alert is an immutable detection record. Alerts live in the in-memory ring
// and on the WebSocket stream; they are never persisted.
type Alert struct {
	ID               string        `json:"id"`
	Timestamp        time.Time     `json:"timestamp"`
	Severity         Severity      `json:"severity"`
	SourceIP         string        `json:"source_ip"`
	SourcePort       int           `json:"source_port"`
	DestinationIP    string        `json:"destination_ip"`
	DestinationLabel string        `json:"destination_label,omitempty"`
	DestinationPort  int           `json:"destination_port"`
	Protocol         string        `json:"protocol"`
	BytesSent        int64         `json:"bytes_sent"`
	BytesReceived    int64         `json:"bytes_received"`
	Description      string        `json:"description"`
	MatchedRule      string        `json:"matched_rule,omitempty"`
	Category         string        `json:"category,omitempty"`
	MLClassification string        `json:"ml_classification,omitempty"`
	MLConfidence     float64       `json:"ml_confidence"`
	AnomalyScore     float64       `json:"anomaly_score"`
	RiskScore        float64       `json:"risk_score"`
	KillChainStage   string        `json:"kill_chain_stage,omitempty"`
	SessionFlags     []string      `json:"session_flags,omitempty"`
	ExfilVelocity    float64       `json:"exfil_velocity,omitempty"`
	Intel            *IntelContext `json:"intel,omitempty"`
}

// GraphChange notifies push consumers that the communication graph gained
// or updated an edge.
type GraphChange struct {
	Source string    `json:"source"`
	Target string    `json:"target"`
	At     time.Time `json:"at"`
}

// ErrorResponse is the uniform error body returned by every API endpoint.
type ErrorResponse struct {
	Error         string `json:"error"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewErrorResponse builds an ErrorResponse with the given message and detail.
func NewErrorResponse(msg, detail, correlationID string) ErrorResponse {
	return ErrorResponse{Error: msg, Detail: detail, CorrelationID: correlationID}
}

// WSMessage is the envelope pushed to WebSocket clients.
// Type is one of "alert", "graph", or "ping".
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}
