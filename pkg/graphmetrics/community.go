package graphmetrics

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
)

// CommunityOptions controls Louvain community detection.
type CommunityOptions struct {
	// Seed makes the partition reproducible. Runs with the same seed over
	// the same graph return the same communities.
	Seed uint64
	// Resolution is the modularity resolution; values <= 0 mean 1.
	Resolution float64
}

// CommunityResult is a partition of the nodes into disjoint communities.
type CommunityResult struct {
	Communities [][]string `json:"communities"`
	Modularity  float64    `json:"modularity"`
}

// Communities partitions g with the Louvain method. Members of each
// community are sorted, and communities are ordered by size descending and
// then by their first member.
func Communities(g *Graph, opts CommunityOptions) CommunityResult {
	if g.NumNodes() == 0 {
		return CommunityResult{Communities: [][]string{}}
	}
	resolution := opts.Resolution
	if resolution <= 0 {
		resolution = 1
	}

	var raw [][]graph.Node
	var target graph.Undirected = g.g
	if g.totalWeight() == 0 {
		target = g.unweighted()
	}
	if g.NumEdges() == 0 {
		for id := range g.names {
			raw = append(raw, []graph.Node{g.g.Node(int64(id))})
		}
	} else {
		reduced := community.Modularize(target, resolution, rand.NewPCG(opts.Seed, opts.Seed))
		raw = reduced.Communities()
	}

	nonEmpty := make([][]graph.Node, 0, len(raw))
	out := make([][]string, 0, len(raw))
	for _, members := range raw {
		if len(members) == 0 {
			continue
		}
		nonEmpty = append(nonEmpty, members)
		out = append(out, g.sortedNames(members))
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})

	return CommunityResult{
		Communities: out,
		Modularity:  modularity(target, nonEmpty, resolution),
	}
}

// Membership maps each node to the index of its community in communities.
func Membership(communities [][]string) map[string]int {
	out := make(map[string]int)
	for i, members := range communities {
		for _, n := range members {
			out[n] = i
		}
	}
	return out
}

func modularity(g graph.Undirected, communities [][]graph.Node, resolution float64) float64 {
	q := community.Q(g, communities, resolution)
	if math.IsNaN(q) {
		return 0
	}
	return q
}

func (g *Graph) totalWeight() float64 {
	var w float64
	it := g.g.WeightedEdges()
	for it.Next() {
		w += it.WeightedEdge().Weight()
	}
	return w
}
