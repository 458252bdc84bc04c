package graph

import (
	"context"
	"sync"
)

// MemoryStore is the volatile Store used with --inmemory and in tests.
// Same merge semantics as BoltStore, nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

func (s *MemoryStore) UpsertNode(ctx context.Context, id string, up NodeUpsert) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := string(nodeKey(id))
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := mergeNode(s.nodes[key], id, up)
	s.nodes[key] = merged
	cp := *merged
	return &cp, nil
}

func (s *MemoryStore) UpsertEdge(ctx context.Context, source, target string, up EdgeUpsert) (*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := string(edgeKey(source, target))
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := mergeEdge(s.edges[key], source, target, up)
	s.edges[key] = merged
	cp := *merged
	return &cp, nil
}

func (s *MemoryStore) GetNode(ctx context.Context, id string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[string(nodeKey(id))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListNodes(ctx context.Context, filter NodeFilter) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListEdges(ctx context.Context) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Edge, 0, len(s.edges))
	for _, e := range s.edges {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*Node)
	s.edges = make(map[string]*Edge)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
