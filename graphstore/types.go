// Package graphstore provides the gateway to the property graph holding the
// narrative world. Nodes are JSON documents in a JetStream KV bucket; edges
// live on their source node. The gateway executes parameterized reads and
// writes only - merge and edge-replace decisions belong to the projector.
package graphstore

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Node labels for the four entity kinds.
const (
	LabelLocation  = "Location"
	LabelCharacter = "Character"
	LabelScene     = "Scene"
	LabelConcept   = "Concept"
)

// Labels lists every entity label, in search result order.
var Labels = []string{LabelLocation, LabelCharacter, LabelScene, LabelConcept}

// Relationship types. Both are derived from scene fields, not stored as
// independent entities.
const (
	EdgeTakesPlaceIn = "TAKES_PLACE_IN"
	EdgeFeatures     = "FEATURES"
)

// Edge is a directed relationship from its owning node to TargetID.
type Edge struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// Node is a property-graph node. Name is set for Location/Character/Concept,
// Title for Scene.
type Node struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Name        string    `json:"name,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Edges       []Edge    `json:"edges,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DisplayName returns the node's name, falling back to its title.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Title
}

// EdgeTargets returns the target ids of all edges of the given type,
// preserving order.
func (n *Node) EdgeTargets(edgeType string) []string {
	var targets []string
	for _, e := range n.Edges {
		if e.Type == edgeType {
			targets = append(targets, e.TargetID)
		}
	}
	return targets
}

// ReplaceEdges removes every edge of the given type and appends edges to the
// given targets. Used by the projector's full-replace relationship semantics.
func (n *Node) ReplaceEdges(edgeType string, targets []string) {
	kept := n.Edges[:0]
	for _, e := range n.Edges {
		if e.Type != edgeType {
			kept = append(kept, e)
		}
	}
	n.Edges = kept
	for _, target := range targets {
		n.Edges = append(n.Edges, Edge{Type: edgeType, TargetID: target})
	}
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.Edges = append([]Edge(nil), n.Edges...)
	return &c
}

// SearchHit is one full-text search result.
type SearchHit struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// SearchLimit caps full-text search results.
const SearchLimit = 50

// Store is the graph store gateway interface. The KV implementation backs
// production; Memory backs tests.
type Store interface {
	// Get returns the node with the given label and id, or a NotFound error.
	Get(ctx context.Context, label, id string) (*Node, error)
	// Put upserts the node by (label, id). Naturally idempotent.
	Put(ctx context.Context, node *Node) error
	// List returns all nodes of one label.
	List(ctx context.Context, label string) ([]*Node, error)
	// FindByName returns a live node of the label whose normalized name (or
	// title, for scenes) equals nameNorm, skipping excludeID. Returns
	// (nil, nil) when there is no match.
	FindByName(ctx context.Context, label, nameNorm, excludeID string) (*Node, error)
	// Search runs a case- and script-insensitive substring match over
	// name/title/description across all labels, capped at limit hits.
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// Normalize prepares a name or title for uniqueness comparison and search:
// trim surrounding whitespace, then Unicode case folding. Folding (rather
// than lowercasing) keeps the comparison script-insensitive. Write paths
// store the trimmed original; folding is a read-time concern. A fresh Caser
// per call: Caser instances are stateful and not goroutine-safe.
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// matchesQuery reports whether the folded haystack contains every
// whitespace-separated term of the folded query, in order.
func matchesQuery(haystack string, terms []string) bool {
	if haystack == "" {
		return false
	}
	rest := haystack
	for _, term := range terms {
		idx := strings.Index(rest, term)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(term):]
	}
	return true
}

// searchNodes applies the full-text match to a node list. Shared by both
// store implementations so they rank and snippet identically.
func searchNodes(nodes []*Node, query string, limit int) []SearchHit {
	if limit <= 0 || limit > SearchLimit {
		limit = SearchLimit
	}
	terms := strings.Fields(Normalize(query))
	if len(terms) == 0 {
		return nil
	}

	hits := []SearchHit{}
	for _, n := range nodes {
		if len(hits) >= limit {
			break
		}
		if matchesQuery(Normalize(n.Name), terms) ||
			matchesQuery(Normalize(n.Title), terms) ||
			matchesQuery(Normalize(n.Description), terms) {
			snippet := n.Description
			if snippet == "" {
				snippet = n.Title
			}
			hits = append(hits, SearchHit{
				Type:    n.Label,
				ID:      n.ID,
				Name:    n.DisplayName(),
				Snippet: snippet,
			})
		}
	}
	return hits
}
