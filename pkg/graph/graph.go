// Package graph holds the knowledge graph accumulated during a research run.
//
// Nodes are identified by a normalized id and edges by the triple
// (source, target, label). Merging only ever adds entries, so the graph grows
// monotonically and repeated or reordered merges converge to the same set.
package graph

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Node is an entity of the graph.
type Node struct {
	ID    string `json:"id" jsonschema_description:"Stable id, the label in lower case with words joined by underscores"`
	Label string `json:"label" jsonschema_description:"Readable name of the entity"`
	Type  string `json:"type" jsonschema_description:"Entity type such as Person, Organization, Concept, Event, Technology, Location or Metric"`
}

// Edge is a directed, labeled relation between two nodes.
type Edge struct {
	Source string `json:"source" jsonschema_description:"Id of the source entity"`
	Target string `json:"target" jsonschema_description:"Id of the target entity"`
	Label  string `json:"label" jsonschema_description:"Short verb phrase describing the relation"`
}

// KnowledgeGraph is safe for concurrent use. Merges are serialized.
type KnowledgeGraph struct {
	mu sync.RWMutex

	nodes     map[string]Node
	nodeOrder []string

	edges     map[Edge]struct{}
	edgeOrder []Edge
}

// NewKnowledgeGraph returns an empty graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		nodes: make(map[string]Node),
		edges: make(map[Edge]struct{}),
	}
}

// NormalizeID turns an id or label into the canonical node id: lower case,
// words joined by underscores, punctuation other than '-' and '.' removed.
func NormalizeID(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Len returns the number of nodes and edges.
func (g *KnowledgeGraph) Len() (nodes int, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// Node returns the node with the given id.
func (g *KnowledgeGraph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[NormalizeID(id)]
	return n, ok
}

// HasEdge reports whether the triple is present.
func (g *KnowledgeGraph) HasEdge(source, target, label string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[Edge{Source: NormalizeID(source), Target: NormalizeID(target), Label: normalizeLabel(label)}]
	return ok
}

// Nodes returns all nodes in insertion order.
func (g *KnowledgeGraph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *KnowledgeGraph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.edgeOrder...)
}

// Hubs returns up to limit nodes ordered by degree, ties broken by id.
func (g *KnowledgeGraph) Hubs(limit int) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	degree := make(map[string]int, len(g.nodes))
	for _, e := range g.edgeOrder {
		degree[e.Source]++
		degree[e.Target]++
	}
	ids := append([]string(nil), g.nodeOrder...)
	sort.SliceStable(ids, func(i, j int) bool {
		if degree[ids[i]] != degree[ids[j]] {
			return degree[ids[i]] > degree[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

type graphJSON struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (g *KnowledgeGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{Nodes: g.Nodes(), Edges: g.Edges()})
}

func (g *KnowledgeGraph) UnmarshalJSON(data []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fresh := NewKnowledgeGraph()
	fresh.Merge(Extraction{Nodes: raw.Nodes, Edges: raw.Edges})

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes, g.nodeOrder = fresh.nodes, fresh.nodeOrder
	g.edges, g.edgeOrder = fresh.edges, fresh.edgeOrder
	return nil
}
