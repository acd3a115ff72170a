package graph

import (
	"container/heap"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
)

// GraphNode represents a node in the weighted directed graph.
// The node corresponds to a composite type as seen by one subgraph.
// Key format: "{Subgraph}:{TypeName}".
type GraphNode struct {
	ID       string         // Node identifier (e.g., "PRODUCTS:Product")
	Subgraph string         // The subgraph this node belongs to
	TypeName string         // Type name (e.g., "Product")
	Edges    map[string]int // Adjacent nodes and their weights
}

// WeightedDirectedGraph is a weighted directed graph of lookups between subgraphs.
type WeightedDirectedGraph struct {
	Nodes map[string]*GraphNode
}

// NewWeightedDirectedGraph creates an empty weighted directed graph.
func NewWeightedDirectedGraph() *WeightedDirectedGraph {
	return &WeightedDirectedGraph{
		Nodes: make(map[string]*GraphNode),
	}
}

// AddNode adds a node to the graph. If the node already exists, it is returned as-is.
func (g *WeightedDirectedGraph) AddNode(subgraph, typeName string) *GraphNode {
	id := NodeKey(subgraph, typeName)
	if existing, ok := g.Nodes[id]; ok {
		return existing
	}
	node := &GraphNode{
		ID:       id,
		Subgraph: subgraph,
		TypeName: typeName,
		Edges:    make(map[string]int),
	}
	g.Nodes[id] = node
	return node
}

// AddEdge adds a directed edge from the node with srcID to the node with dstID.
// Each edge is one lookup, so weights are 1 unless a caller models cheaper hops.
func (g *WeightedDirectedGraph) AddEdge(srcID, dstID string, weight int) {
	src, ok := g.Nodes[srcID]
	if !ok {
		return
	}
	if _, ok := g.Nodes[dstID]; !ok {
		return
	}
	// Always keep the minimum weight.
	if existing, exists := src.Edges[dstID]; !exists || weight < existing {
		src.Edges[dstID] = weight
	}
}

// NodeKey returns the graph node key for a given subgraph and type.
func NodeKey(subgraph, typeName string) string {
	return fmt.Sprintf("%s:%s", subgraph, typeName)
}

type hop struct {
	id   string
	cost int
}

// hopQueue is a min-heap of hops ordered by cost.
type hopQueue []hop

func (q hopQueue) Len() int           { return len(q) }
func (q hopQueue) Less(i, j int) bool { return q[i].cost < q[j].cost }
func (q hopQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *hopQueue) Push(x any)        { *q = append(*q, x.(hop)) }
func (q *hopQueue) Pop() any {
	old := *q
	h := old[len(old)-1]
	*q = old[:len(old)-1]
	return h
}

// Dijkstra returns the minimum cost of reaching every node reachable from the entry points.
// Unreachable nodes are absent from the result.
func (g *WeightedDirectedGraph) Dijkstra(entryPoints []string) map[string]int {
	dist := make(map[string]int, len(g.Nodes))
	q := &hopQueue{}

	for _, id := range entryPoints {
		if _, ok := g.Nodes[id]; ok {
			dist[id] = 0
			heap.Push(q, hop{id: id})
		}
	}

	for q.Len() > 0 {
		cur := heap.Pop(q).(hop)
		if cur.cost > dist[cur.id] {
			continue
		}
		for next, w := range g.Nodes[cur.id].Edges {
			cost := cur.cost + w
			if known, ok := dist[next]; ok && known <= cost {
				continue
			}
			dist[next] = cost
			heap.Push(q, hop{id: next, cost: cost})
		}
	}

	return dist
}

// BuildLookupGraph constructs the lookup graph of the composite schema.
//
// Graph construction rules:
//   - Every (subgraph, type) pair where the subgraph resolves at least one field of the
//     type, or declares it with @fusion__type, becomes a node.
//   - An edge A:T -> B:T (weight 1) exists when B has a lookup for T whose mapped key
//     fields are all resolvable in A without requirements.
func BuildLookupGraph(s *CompositeSchema) *WeightedDirectedGraph {
	g := NewWeightedDirectedGraph()

	// First pass: nodes.
	for _, name := range s.typeOrder {
		t := s.Types[name]
		if t.Kind != ast.Object && t.Kind != ast.Interface {
			continue
		}
		for _, sg := range t.Sources {
			g.AddNode(sg, t.Name)
		}
		for _, f := range t.Fields {
			for _, src := range f.Sources {
				g.AddNode(src.Subgraph, t.Name)
			}
		}
		for _, l := range t.Lookups {
			g.AddNode(l.Subgraph, t.Name)
		}
	}

	// Second pass: lookup edges.
	for _, name := range s.typeOrder {
		t := s.Types[name]
		for _, l := range t.Lookups {
			dst := NodeKey(l.Subgraph, t.Name)
			for _, src := range g.Nodes {
				if src.TypeName != t.Name || src.Subgraph == l.Subgraph {
					continue
				}
				if lookupSatisfiedBy(t, l, src.Subgraph) {
					g.AddEdge(src.ID, dst, 1)
				}
			}
		}
	}

	return g
}

// lookupSatisfiedBy reports whether subgraph can provide every argument of the lookup.
func lookupSatisfiedBy(t *Type, l *Lookup, subgraph string) bool {
	for _, arg := range l.Arguments {
		f, ok := t.Field(arg.KeyField)
		if !ok || !f.IsLocal(subgraph) {
			return false
		}
	}
	return true
}

// computeDistances pre-computes lookup hop counts for every graph node.
func (s *CompositeSchema) computeDistances() {
	g := BuildLookupGraph(s)
	for id := range g.Nodes {
		dist := g.Dijkstra([]string{id})
		hops := make(map[string]int, len(dist))
		for dst, cost := range dist {
			hops[g.Nodes[dst].Subgraph] = cost
		}
		s.distances[id] = hops
	}
}
