package graphstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/EKaterinaTR/winm/errors"
	"github.com/EKaterinaTR/winm/metric"
)

// KV implements Store on a JetStream KV bucket. Keys are "<label>.<id>"
// with the label lowercased, so one bucket holds all four entity kinds and
// per-label scans reduce to a key-prefix filter.
type KV struct {
	bucket  jetstream.KeyValue
	metrics *metric.Metrics
}

// NewKV creates a KV-backed graph store gateway. metrics may be nil.
func NewKV(bucket jetstream.KeyValue, metrics *metric.Metrics) *KV {
	return &KV{bucket: bucket, metrics: metrics}
}

func (s *KV) count(operation string) {
	if s.metrics != nil {
		s.metrics.GraphQueries.WithLabelValues(operation).Inc()
	}
}

func key(label, id string) string {
	return strings.ToLower(label) + "." + id
}

// Get returns the node with the given label and id.
func (s *KV) Get(ctx context.Context, label, id string) (*Node, error) {
	s.count("get")
	entry, err := s.bucket.Get(ctx, key(label, id))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.NotFound(errors.ErrNotFound, "GraphStore", "Get", label+" not found")
		}
		return nil, errors.Upstream(err, "GraphStore", "Get", "KV get")
	}

	var node Node
	if err := json.Unmarshal(entry.Value(), &node); err != nil {
		return nil, errors.Upstream(err, "GraphStore", "Get", "unmarshal node")
	}
	return &node, nil
}

// Put upserts the node by (label, id).
func (s *KV) Put(ctx context.Context, node *Node) error {
	s.count("put")
	node.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(node)
	if err != nil {
		return errors.Upstream(err, "GraphStore", "Put", "marshal node")
	}
	if _, err := s.bucket.Put(ctx, key(node.Label, node.ID), data); err != nil {
		return errors.Upstream(err, "GraphStore", "Put", "KV put")
	}
	return nil
}

// List returns all nodes of one label.
func (s *KV) List(ctx context.Context, label string) ([]*Node, error) {
	s.count("list")
	prefix := strings.ToLower(label) + "."

	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return []*Node{}, nil
		}
		return nil, errors.Upstream(err, "GraphStore", "List", "KV list keys")
	}

	nodes := []*Node{}
	for k := range lister.Keys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		entry, err := s.bucket.Get(ctx, k)
		if err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				continue // deleted between list and get
			}
			return nil, errors.Upstream(err, "GraphStore", "List", "KV get")
		}
		var node Node
		if err := json.Unmarshal(entry.Value(), &node); err != nil {
			return nil, errors.Upstream(err, "GraphStore", "List", "unmarshal node")
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

// FindByName returns a node of the label matching the normalized name,
// skipping excludeID. Scenes match on title, everything else on name.
func (s *KV) FindByName(ctx context.Context, label, nameNorm, excludeID string) (*Node, error) {
	nodes, err := s.List(ctx, label)
	if err != nil {
		return nil, err
	}
	return findByName(nodes, nameNorm, excludeID), nil
}

// Search scans all labels and applies the shared substring match.
func (s *KV) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	s.count("search")
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

// findByName is shared by both store implementations.
func findByName(nodes []*Node, nameNorm, excludeID string) *Node {
	for _, n := range nodes {
		if n.ID == excludeID {
			continue
		}
		candidate := n.Name
		if n.Label == LabelScene {
			candidate = n.Title
		}
		if Normalize(candidate) == nameNorm {
			return n
		}
	}
	return nil
}
