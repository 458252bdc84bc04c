package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	nodesBucket = "nodes"
	edgesBucket = "edges"

	// edgeKeySep joins source and target into one edge key. Node ids are
	// IPs or hostnames, neither of which contains a pipe.
	edgeKeySep = "|"

	dbFileMode  = 0o600
	openTimeout = 5 * time.Second
)

// BoltStore persists the graph in a bbolt database. Writes go through
// bolt's single-writer transaction, reads use lock-free View snapshots.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.SugaredLogger
}

// NewBoltStore opens (or creates) the database at path and ensures both
// buckets exist. Reopening an existing file is idempotent.
func NewBoltStore(path string, logger *zap.SugaredLogger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := bolt.Open(path, dbFileMode, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{nodesBucket, edgesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Debugw("graph store opened", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

func nodeKey(id string) []byte { return []byte(strings.ToLower(id)) }

func edgeKey(source, target string) []byte {
	return []byte(strings.ToLower(source) + edgeKeySep + strings.ToLower(target))
}

// UpsertNode merges up into the node record for id, creating it on first
// sight, and flushes before returning.
func (s *BoltStore) UpsertNode(ctx context.Context, id string, up NodeUpsert) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *Node
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(nodesBucket))
		var existing *Node
		if raw := b.Get(nodeKey(id)); raw != nil {
			existing = &Node{}
			if err := json.Unmarshal(raw, existing); err != nil {
				return fmt.Errorf("decode node %s: %w", id, err)
			}
		}
		out = mergeNode(existing, id, up)
		raw, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode node %s: %w", id, err)
		}
		return b.Put(nodeKey(id), raw)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertEdge merges up into the source→target edge record.
func (s *BoltStore) UpsertEdge(ctx context.Context, source, target string, up EdgeUpsert) (*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *Edge
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(edgesBucket))
		key := edgeKey(source, target)
		var existing *Edge
		if raw := b.Get(key); raw != nil {
			existing = &Edge{}
			if err := json.Unmarshal(raw, existing); err != nil {
				return fmt.Errorf("decode edge %s: %w", key, err)
			}
		}
		out = mergeEdge(existing, source, target, up)
		raw, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode edge %s: %w", key, err)
		}
		return b.Put(key, raw)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetNode returns the node for id or ErrNotFound.
func (s *BoltStore) GetNode(ctx context.Context, id string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *Node
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(nodesBucket)).Get(nodeKey(id))
		if raw == nil {
			return ErrNotFound
		}
		out = &Node{}
		return json.Unmarshal(raw, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListNodes returns a snapshot of all nodes matching filter.
func (s *BoltStore) ListNodes(ctx context.Context, filter NodeFilter) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(nodesBucket)).ForEach(func(_, v []byte) error {
			n := &Node{}
			if err := json.Unmarshal(v, n); err != nil {
				return err
			}
			if filter.Type != "" && n.Type != filter.Type {
				return nil
			}
			out = append(out, n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListEdges returns a snapshot of all edges.
func (s *BoltStore) ListEdges(ctx context.Context) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(edgesBucket)).ForEach(func(_, v []byte) error {
			e := &Edge{}
			if err := json.Unmarshal(v, e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reset drops both buckets and recreates them empty.
func (s *BoltStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{nodesBucket, edgesBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return fmt.Errorf("drop bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return fmt.Errorf("recreate bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close flushes and closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
