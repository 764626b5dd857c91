package graphstore

import (
	"context"
	"sync"
	"time"

	"github.com/EKaterinaTR/winm/errors"
)

// Memory is an in-process Store used by unit tests and local development.
// It mirrors KV semantics exactly, including upsert-by-put.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*Node // key: "<label>.<id>"
}

// NewMemory creates an empty in-memory graph store.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]*Node)}
}

// Get returns the node with the given label and id.
func (s *Memory) Get(_ context.Context, label, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[key(label, id)]
	if !ok {
		return nil, errors.NotFound(errors.ErrNotFound, "GraphStore", "Get", label+" not found")
	}
	return node.Clone(), nil
}

// Put upserts the node by (label, id).
func (s *Memory) Put(_ context.Context, node *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := node.Clone()
	stored.UpdatedAt = time.Now().UTC()
	s.nodes[key(node.Label, node.ID)] = stored
	return nil
}

// List returns all nodes of one label.
func (s *Memory) List(_ context.Context, label string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := []*Node{}
	for _, n := range s.nodes {
		if n.Label == label {
			nodes = append(nodes, n.Clone())
		}
	}
	return nodes, nil
}

// FindByName returns a node of the label matching the normalized name,
// skipping excludeID.
func (s *Memory) FindByName(ctx context.Context, label, nameNorm, excludeID string) (*Node, error) {
	nodes, err := s.List(ctx, label)
	if err != nil {
		return nil, err
	}
	return findByName(nodes, nameNorm, excludeID), nil
}

// Search scans all labels and applies the shared substring match.
func (s *Memory) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	all := []*Node{}
	for _, label := range Labels {
		nodes, err := s.List(ctx, label)
		if err != nil {
			return nil, err
		}
		all = append(all, nodes...)
	}
	return searchNodes(all, query, limit), nil
}

// Len reports the number of stored nodes, for tests.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
