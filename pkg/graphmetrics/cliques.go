package graphmetrics

import (
	"container/heap"
	"context"
	"fmt"
	"math/bits"
	"sort"
)

// CliqueOptions bounds clique enumeration, which is exponential in the worst
// case.
type CliqueOptions struct {
	MaxNodes int // refuse graphs with more nodes, default 5000
	MaxEdges int // refuse graphs with more edges, default 50000
	// MaxCliques stops the enumeration once this many maximal cliques have
	// been visited, default 100000.
	MaxCliques int
}

const (
	DefaultCliqueMaxNodes   = 5000
	DefaultCliqueMaxEdges   = 50000
	DefaultCliqueMaxCliques = 100000
)

// ctxCheckEvery is how many recursion steps pass between context checks.
const ctxCheckEvery = 256

func (o CliqueOptions) withDefaults() CliqueOptions {
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultCliqueMaxNodes
	}
	if o.MaxEdges <= 0 {
		o.MaxEdges = DefaultCliqueMaxEdges
	}
	if o.MaxCliques <= 0 {
		o.MaxCliques = DefaultCliqueMaxCliques
	}
	return o
}

// LargestCliques returns up to n maximal cliques ordered by size descending,
// then by their sorted members. Graphs above the node or edge budget, and
// graphs with more than MaxCliques maximal cliques, fail with
// ErrBudgetExceeded. The enumeration runs on the calling goroutine and
// stops with ctx's error once ctx ends.
func LargestCliques(ctx context.Context, g *Graph, n int, opts CliqueOptions) ([][]string, error) {
	opts = opts.withDefaults()
	if g.NumNodes() > opts.MaxNodes {
		return nil, fmt.Errorf("%w: %d nodes > %d", ErrBudgetExceeded, g.NumNodes(), opts.MaxNodes)
	}
	if g.NumEdges() > opts.MaxEdges {
		return nil, fmt.Errorf("%w: %d edges > %d", ErrBudgetExceeded, g.NumEdges(), opts.MaxEdges)
	}
	if g.NumNodes() == 0 || n <= 0 {
		return [][]string{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := newCliqueEnumerator(ctx, g, n, opts.MaxCliques)
	p := newBitset(g.NumNodes())
	for i := 0; i < g.NumNodes(); i++ {
		p.set(i)
	}
	if err := e.expand(make([]int, 0, 16), p, newBitset(g.NumNodes())); err != nil {
		return nil, err
	}

	cliques := make([][]string, len(e.best))
	copy(cliques, e.best)
	sort.Slice(cliques, func(i, j int) bool { return betterClique(cliques[i], cliques[j]) })
	return cliques, nil
}

type cliqueEnumerator struct {
	ctx   context.Context
	g     *Graph
	adj   []bitset
	limit int
	keep  int
	found int
	steps int
	best  cliqueHeap
}

func newCliqueEnumerator(ctx context.Context, g *Graph, keep, limit int) *cliqueEnumerator {
	n := g.NumNodes()
	adj := make([]bitset, n)
	for i := range adj {
		adj[i] = newBitset(n)
	}
	it := g.g.Edges()
	for it.Next() {
		e := it.Edge()
		u, v := int(e.From().ID()), int(e.To().ID())
		adj[u].set(v)
		adj[v].set(u)
	}
	return &cliqueEnumerator{ctx: ctx, g: g, adj: adj, limit: limit, keep: keep}
}

// expand is Bron–Kerbosch with Tomita pivoting: r is the clique so far, p
// the candidates that extend it and x the vertices already covered.
func (e *cliqueEnumerator) expand(r []int, p, x bitset) error {
	e.steps++
	if e.steps%ctxCheckEvery == 0 {
		if err := e.ctx.Err(); err != nil {
			return err
		}
	}
	if p.empty() {
		if x.empty() {
			return e.report(r)
		}
		return nil
	}

	pivot, most := -1, -1
	for _, set := range []bitset{p, x} {
		set.each(func(u int) {
			if c := andCount(p, e.adj[u]); c > most {
				pivot, most = u, c
			}
		})
	}

	candidates := p.andNot(e.adj[pivot])
	var err error
	candidates.each(func(v int) {
		if err != nil {
			return
		}
		err = e.expand(append(r, v), p.and(e.adj[v]), x.and(e.adj[v]))
		p.clear(v)
		x.set(v)
	})
	return err
}

func (e *cliqueEnumerator) report(r []int) error {
	e.found++
	if e.found > e.limit {
		return fmt.Errorf("%w: more than %d maximal cliques", ErrBudgetExceeded, e.limit)
	}
	if len(e.best) == e.keep && len(r) < len(e.best[0]) {
		return nil
	}
	names := make([]string, len(r))
	for i, id := range r {
		names[i] = e.g.names[id]
	}
	sort.Strings(names)
	switch {
	case len(e.best) < e.keep:
		heap.Push(&e.best, names)
	case betterClique(names, e.best[0]):
		e.best[0] = names
		heap.Fix(&e.best, 0)
	}
	return nil
}

// betterClique orders cliques by size descending, then by members.
func betterClique(a, b []string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return lessStrings(a, b)
}

// cliqueHeap keeps the worst retained clique at the root.
type cliqueHeap [][]string

func (h cliqueHeap) Len() int           { return len(h) }
func (h cliqueHeap) Less(i, j int) bool { return betterClique(h[j], h[i]) }
func (h cliqueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cliqueHeap) Push(v any)        { *h = append(*h, v.([]string)) }
func (h *cliqueHeap) Pop() any {
	old := *h
	v := old[len(old)-1]
	*h = old[:len(old)-1]
	return v
}

type bitset []uint64

func newBitset(n int) bitset { return make(bitset, (n+63)/64) }

func (b bitset) set(i int)   { b[i>>6] |= 1 << (uint(i) & 63) }
func (b bitset) clear(i int) { b[i>>6] &^= 1 << (uint(i) & 63) }

func (b bitset) empty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

func (b bitset) and(o bitset) bitset {
	out := make(bitset, len(b))
	for i := range b {
		out[i] = b[i] & o[i]
	}
	return out
}

func (b bitset) andNot(o bitset) bitset {
	out := make(bitset, len(b))
	for i := range b {
		out[i] = b[i] &^ o[i]
	}
	return out
}

func andCount(a, b bitset) int {
	n := 0
	for i := range a {
		n += bits.OnesCount64(a[i] & b[i])
	}
	return n
}

// each calls fn for every member in ascending order. Members cleared by fn
// after they are visited do not affect the walk.
func (b bitset) each(fn func(int)) {
	for i, w := range b {
		for w != 0 {
			t := bits.TrailingZeros64(w)
			fn(i<<6 + t)
			w &^= 1 << uint(t)
		}
	}
}

func lessStrings(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
