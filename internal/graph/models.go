// Package graph persists the network communication graph: nodes are
// endpoints, edges are observed flows between them.
package graph

import (
	"context"
	"errors"
	"time"
)

// NodeType classifies an endpoint.
type NodeType string

const (
	NodeInternal NodeType = "internal"
	NodeExternal NodeType = "external"
	// NodeShadow marks a confirmed or strongly suspected AI service
	// endpoint. The label is sticky until the store is reset.
	NodeShadow NodeType = "shadow"
)

// ErrNotFound is returned when a node lookup misses.
var ErrNotFound = errors.New("graph: not found")

// Node is one endpoint in the communication graph.
type Node struct {
	ID         string    `json:"id"`
	Type       NodeType  `json:"type"`
	Label      string    `json:"label,omitempty"`
	Department string    `json:"department,omitempty"`
	RiskScore  float64   `json:"risk_score"`
	AlertCount int       `json:"alert_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Edge is a directed source→destination communication record, aggregated
// over all observed flows.
type Edge struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Protocol  string    `json:"protocol"`
	DstPort   int       `json:"dst_port"`
	ByteCount int64     `json:"byte_count"`
	FlowCount int64     `json:"flow_count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NodeUpsert describes one merge into a node record. Zero-valued fields
// leave the stored value untouched.
type NodeUpsert struct {
	Type       NodeType
	Label      string
	Department string
	// RiskScore replaces the stored score when SetRisk is true.
	SetRisk   bool
	RiskScore float64
	// AddAlerts increments the node's alert counter.
	AddAlerts int
	SeenAt    time.Time
}

// EdgeUpsert describes one merge into an edge record.
type EdgeUpsert struct {
	Protocol string
	DstPort  int
	AddBytes int64
	SeenAt   time.Time
}

// NodeFilter narrows ListNodes. Zero value matches everything.
type NodeFilter struct {
	Type NodeType
}

// Store is the communication-graph persistence interface. Implementations
// must serialize writes per key and allow concurrent snapshot reads.
type Store interface {
	UpsertNode(ctx context.Context, id string, up NodeUpsert) (*Node, error)
	UpsertEdge(ctx context.Context, source, target string, up EdgeUpsert) (*Edge, error)
	GetNode(ctx context.Context, id string) (*Node, error)
	ListNodes(ctx context.Context, filter NodeFilter) ([]*Node, error)
	ListEdges(ctx context.Context) ([]*Edge, error)
	Reset(ctx context.Context) error
	Close() error
}

// mergeNode applies up onto existing (nil means create) and returns the
// merged record. Shadow classification is sticky: once a node is shadow it
// is never demoted by a later upsert.
func mergeNode(existing *Node, id string, up NodeUpsert) *Node {
	now := up.SeenAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	n := existing
	if n == nil {
		n = &Node{ID: id, Type: up.Type, FirstSeen: now, RiskScore: 0}
		if n.Type == "" {
			n.Type = NodeExternal
		}
	}
	n.LastSeen = now
	if up.Type != "" && n.Type != NodeShadow {
		n.Type = up.Type
	}
	if up.Type == NodeShadow {
		n.Type = NodeShadow
	}
	if up.Label != "" {
		n.Label = up.Label
	}
	if up.Department != "" {
		n.Department = up.Department
	}
	if up.SetRisk {
		n.RiskScore = up.RiskScore
	}
	n.AlertCount += up.AddAlerts
	return n
}

func mergeEdge(existing *Edge, source, target string, up EdgeUpsert) *Edge {
	now := up.SeenAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e := existing
	if e == nil {
		e = &Edge{Source: source, Target: target, FirstSeen: now}
	}
	e.LastSeen = now
	if up.Protocol != "" {
		e.Protocol = up.Protocol
	}
	if up.DstPort != 0 {
		e.DstPort = up.DstPort
	}
	e.ByteCount += up.AddBytes
	e.FlowCount++
	return e
}
