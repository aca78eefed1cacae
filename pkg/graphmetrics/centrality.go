package graphmetrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/path"
)

// Kind names a centrality measure.
type Kind string

const (
	Degree      Kind = "degree"
	Betweenness Kind = "betweenness"
	Closeness   Kind = "closeness"
	Eigenvector Kind = "eigenvector"
)

// Kinds lists every supported centrality measure.
var Kinds = []Kind{Degree, Betweenness, Closeness, Eigenvector}

// ParseKind validates a centrality kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Scores maps node id to a metric value.
type Scores map[string]float64

// NodeScore is one ranked entry.
type NodeScore struct {
	Node  string  `json:"node"`
	Score float64 `json:"score"`
}

// Options controls the iterative centrality measures.
type Options struct {
	MaxIter   int     // eigenvector iteration cap, default 1000
	Tolerance float64 // eigenvector convergence tolerance per node, default 1e-6
}

const (
	DefaultMaxIter   = 1000
	DefaultTolerance = 1e-6
)

func (o Options) withDefaults() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	return o
}

// NotConvergedError carries the iteration count of a failed power iteration.
type NotConvergedError struct {
	Iterations int
}

func (e *NotConvergedError) Error() string {
	return fmt.Sprintf("%s after %d iterations", ErrNotConverged, e.Iterations)
}

func (e *NotConvergedError) Unwrap() error { return ErrNotConverged }

// Centrality computes every measure in Kinds concurrently. All values are
// normalised the same way networkx normalises them.
func Centrality(ctx context.Context, g *Graph, opts Options) (map[Kind]Scores, error) {
	var mu sync.Mutex
	out := make(map[Kind]Scores, len(Kinds))

	eg, ctx := errgroup.WithContext(ctx)
	for _, k := range Kinds {
		eg.Go(func() error {
			s, err := CentralityOf(ctx, g, k, opts)
			if err != nil {
				return fmt.Errorf("%s centrality: %w", k, err)
			}
			mu.Lock()
			out[k] = s
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CentralityOf computes a single measure.
func CentralityOf(ctx context.Context, g *Graph, kind Kind, opts Options) (Scores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch kind {
	case Degree:
		return degreeCentrality(g), nil
	case Betweenness:
		return betweennessCentrality(g), nil
	case Closeness:
		return closenessCentrality(ctx, g)
	case Eigenvector:
		return eigenvectorCentrality(ctx, g, opts.withDefaults())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// TopNodes returns the n highest-scoring nodes for kind, ordered by score
// descending and then by node id ascending.
func TopNodes(ctx context.Context, g *Graph, kind Kind, n int, opts Options) ([]NodeScore, error) {
	scores, err := CentralityOf(ctx, g, kind, opts)
	if err != nil {
		return nil, err
	}
	return Rank(scores, n), nil
}

// Rank orders scores by value descending, ties by node id ascending, and
// keeps the first n. n <= 0 keeps everything.
func Rank(scores Scores, n int) []NodeScore {
	ranked := make([]NodeScore, 0, len(scores))
	for node, s := range scores {
		ranked = append(ranked, NodeScore{Node: node, Score: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Node < ranked[j].Node
	})
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

func degreeCentrality(g *Graph) Scores {
	n := g.NumNodes()
	out := make(Scores, n)
	if n <= 1 {
		for _, name := range g.names {
			out[name] = 1
		}
		return out
	}
	scale := 1 / float64(n-1)
	for id, name := range g.names {
		out[name] = float64(g.g.From(int64(id)).Len()) * scale
	}
	return out
}

func betweennessCentrality(g *Graph) Scores {
	n := g.NumNodes()
	raw := network.Betweenness(g.unweighted())
	out := make(Scores, n)
	// raw counts each unordered pair twice on undirected graphs.
	scale := 0.0
	if n > 2 {
		scale = 1 / (float64(n-1) * float64(n-2))
	}
	for id, name := range g.names {
		out[name] = raw[int64(id)] * scale
	}
	return out
}

// closenessCentrality uses the Wasserman-Faust form so that nodes in small
// components are not over-rated.
func closenessCentrality(ctx context.Context, g *Graph) (Scores, error) {
	n := g.NumNodes()
	out := make(Scores, n)
	h := g.unweighted()
	for id, name := range g.names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sp := path.DijkstraFrom(g.g.Node(int64(id)), h)
		var total float64
		reachable := 0
		for other := range g.names {
			d := sp.WeightTo(int64(other))
			if math.IsInf(d, 1) {
				continue
			}
			total += d
			reachable++
		}
		var c float64
		if total > 0 && n > 1 {
			r := float64(reachable - 1)
			c = (r / total) * (r / float64(n-1))
		}
		out[name] = c
	}
	return out, nil
}

// eigenvectorCentrality runs power iteration on (A + I). It fails with
// ErrNotConverged rather than returning a partial vector.
func eigenvectorCentrality(ctx context.Context, g *Graph, opts Options) (Scores, error) {
	n := g.NumNodes()
	if n == 0 {
		return Scores{}, nil
	}
	adj := g.neighbours()
	x := make([]float64, n)
	for i := range x {
		x[i] = 1 / float64(n)
	}
	last := make([]float64, n)

	for iter := 1; iter <= opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		copy(last, x)
		for u, nb := range adj {
			for _, v := range nb {
				x[v] += last[u]
			}
		}
		var norm float64
		for _, v := range x {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			norm = 1
		}
		var diff float64
		for i := range x {
			x[i] /= norm
			diff += math.Abs(x[i] - last[i])
		}
		if diff < float64(n)*opts.Tolerance {
			out := make(Scores, n)
			for id, name := range g.names {
				out[name] = x[id]
			}
			return out, nil
		}
	}
	return nil, &NotConvergedError{Iterations: opts.MaxIter}
}
