package graphmetrics

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/path"
)

// PathResult is the outcome of a shortest path query. When no path exists
// Exists is false, Path is empty and Length is +Inf (encoded as null).
type PathResult struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Path   []string `json:"path"`
	Length float64  `json:"length"`
	Exists bool     `json:"exists"`
}

// MarshalJSON encodes an infinite length as null.
func (p PathResult) MarshalJSON() ([]byte, error) {
	type alias PathResult
	var length *float64
	if !math.IsInf(p.Length, 0) && !math.IsNaN(p.Length) {
		l := p.Length
		length = &l
	}
	return json.Marshal(struct {
		alias
		Length *float64 `json:"length"`
	}{alias(p), length})
}

// ShortestPath returns a minimum-hop path from source to target. A node is
// at distance 0 from itself. Unknown endpoints fail with ErrNodeNotFound.
func ShortestPath(g *Graph, source, target string) (PathResult, error) {
	res := PathResult{Source: source, Target: target, Path: []string{}, Length: math.Inf(1)}
	sid, ok := g.ids[source]
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrNodeNotFound, source)
	}
	tid, ok := g.ids[target]
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrNodeNotFound, target)
	}
	if sid == tid {
		res.Path = []string{source}
		res.Length = 0
		res.Exists = true
		return res, nil
	}

	nodes, weight := path.DijkstraFrom(g.g.Node(sid), g.unweighted()).To(tid)
	if len(nodes) == 0 || math.IsInf(weight, 1) {
		return res, nil
	}
	res.Path = make([]string, len(nodes))
	for i, n := range nodes {
		res.Path[i] = g.name(n)
	}
	res.Length = weight
	res.Exists = true
	return res, nil
}
