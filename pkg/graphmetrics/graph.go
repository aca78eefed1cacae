// Package graphmetrics computes network-analysis metrics over a tenant graph.
//
// A Graph is an undirected simple graph keyed by string node ids and backed by
// gonum. All functions are read-only with respect to the graph, so a Graph may
// be shared between goroutines once built.
package graphmetrics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// Errors returned by the metrics functions.
var (
	ErrUnknownKind    = errors.New("unknown centrality kind")
	ErrNotConverged   = errors.New("power iteration failed to converge")
	ErrBudgetExceeded = errors.New("graph exceeds computation budget")
	ErrNodeNotFound   = errors.New("node not found")
	ErrNegativeWeight = errors.New("negative edge weight")
	ErrEmptyNodeID    = errors.New("empty node id")
)

// Edge is an undirected weighted link between two nodes.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// Graph is an undirected simple graph with string node ids.
type Graph struct {
	g     *simple.WeightedUndirectedGraph
	ids   map[string]int64
	names []string
	loops int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		g:   simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		ids: make(map[string]int64),
	}
}

// FromEdges builds a graph from an edge list. Self loops are dropped and
// repeated edges keep the last weight seen.
func FromEdges(edges []Edge) (*Graph, error) {
	g := New()
	for i, e := range edges {
		if err := g.AddEdge(e); err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
	}
	return g, nil
}

// AddNode adds an isolated node if it is not already present.
func (g *Graph) AddNode(name string) error {
	if name == "" {
		return ErrEmptyNodeID
	}
	g.node(name)
	return nil
}

// AddEdge adds e to the graph, creating its endpoints as needed.
func (g *Graph) AddEdge(e Edge) error {
	if e.Source == "" || e.Target == "" {
		return ErrEmptyNodeID
	}
	if e.Weight < 0 || math.IsNaN(e.Weight) {
		return fmt.Errorf("%w: %s-%s %v", ErrNegativeWeight, e.Source, e.Target, e.Weight)
	}
	u := g.node(e.Source)
	v := g.node(e.Target)
	if u.ID() == v.ID() {
		g.loops++
		return nil
	}
	g.g.SetWeightedEdge(g.g.NewWeightedEdge(u, v, e.Weight))
	return nil
}

func (g *Graph) node(name string) graph.Node {
	if id, ok := g.ids[name]; ok {
		return g.g.Node(id)
	}
	id := int64(len(g.names))
	g.ids[name] = id
	g.names = append(g.names, name)
	n := simple.Node(id)
	g.g.AddNode(n)
	return n
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return len(g.names) }

// NumEdges returns the number of distinct undirected edges.
func (g *Graph) NumEdges() int { return g.g.Edges().Len() }

// DroppedSelfLoops returns how many self loops were ignored while building.
func (g *Graph) DroppedSelfLoops() int { return g.loops }

// HasNode reports whether name is a node of g.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.ids[name]
	return ok
}

// Nodes returns all node ids in ascending order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	sort.Strings(out)
	return out
}

// Degree returns the number of neighbours of name, or 0 if absent.
func (g *Graph) Degree(name string) int {
	id, ok := g.ids[name]
	if !ok {
		return 0
	}
	return g.g.From(id).Len()
}

// Edges returns all edges with Source < Target, sorted.
func (g *Graph) Edges() []Edge {
	it := g.g.WeightedEdges()
	out := make([]Edge, 0, it.Len())
	for it.Next() {
		e := it.WeightedEdge()
		s, t := g.name(e.From()), g.name(e.To())
		if t < s {
			s, t = t, s
		}
		out = append(out, Edge{Source: s, Target: t, Weight: e.Weight()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func (g *Graph) name(n graph.Node) string { return g.names[n.ID()] }

func (g *Graph) sortedNames(nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = g.name(n)
	}
	sort.Strings(out)
	return out
}

// neighbours returns the neighbour ids of every node, indexed by node id.
func (g *Graph) neighbours() [][]int64 {
	adj := make([][]int64, len(g.names))
	for id := range adj {
		it := g.g.From(int64(id))
		nb := make([]int64, 0, it.Len())
		for it.Next() {
			nb = append(nb, it.Node().ID())
		}
		adj[id] = nb
	}
	return adj
}

// hops hides edge weights so path algorithms count hops.
type hops struct {
	graph.Undirected
}

func (g *Graph) unweighted() hops { return hops{g.g} }
