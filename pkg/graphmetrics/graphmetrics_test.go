package graphmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGraph(t *testing.T, pairs ...[2]string) *Graph {
	t.Helper()
	edges := make([]Edge, len(pairs))
	for i, p := range pairs {
		edges[i] = Edge{Source: p[0], Target: p[1], Weight: 1}
	}
	g, err := FromEdges(edges)
	require.NoError(t, err)
	return g
}

func pathGraph(t *testing.T) *Graph {
	return mustGraph(t, [2]string{"a", "b"}, [2]string{"b", "c"})
}

// Two triangles joined by a single bridge c-d.
func barbell(t *testing.T) *Graph {
	return mustGraph(t,
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "c"},
		[2]string{"d", "e"}, [2]string{"e", "f"}, [2]string{"d", "f"},
		[2]string{"c", "d"},
	)
}

func TestFromEdges(t *testing.T) {
	g, err := FromEdges([]Edge{
		{Source: "a", Target: "b", Weight: 1},
		{Source: "b", Target: "a", Weight: 2},
		{Source: "c", Target: "c", Weight: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, 1, g.NumEdges())
	assert.Equal(t, 1, g.DroppedSelfLoops())
	assert.Equal(t, []string{"a", "b", "c"}, g.Nodes())
	assert.Equal(t, []Edge{{Source: "a", Target: "b", Weight: 2}}, g.Edges())

	_, err = FromEdges([]Edge{{Source: "a", Target: "b", Weight: -1}})
	assert.ErrorIs(t, err, ErrNegativeWeight)
	_, err = FromEdges([]Edge{{Source: "", Target: "b"}})
	assert.ErrorIs(t, err, ErrEmptyNodeID)
}

func TestBasicMetrics(t *testing.T) {
	t.Run("triangle", func(t *testing.T) {
		b := BasicMetrics(mustGraph(t, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "c"}))
		assert.Equal(t, 3, b.NodeCount)
		assert.Equal(t, 3, b.EdgeCount)
		assert.InDelta(t, 1.0, b.Density, 1e-12)
		assert.InDelta(t, 1.0, b.AvgClustering, 1e-12)
		assert.InDelta(t, 1.0, b.Transitivity, 1e-12)
		assert.InDelta(t, 2.0, b.AvgDegree, 1e-12)
		assert.True(t, b.IsConnected)
	})

	t.Run("path", func(t *testing.T) {
		b := BasicMetrics(pathGraph(t))
		assert.InDelta(t, 2.0/3.0, b.Density, 1e-12)
		assert.Zero(t, b.AvgClustering)
		assert.Zero(t, b.Transitivity)
		assert.True(t, b.IsConnected)
	})

	t.Run("barbell", func(t *testing.T) {
		b := BasicMetrics(barbell(t))
		// a,b,e,f have clustering 1; c,d have 1/3.
		assert.InDelta(t, (4+2.0/3.0)/6, b.AvgClustering, 1e-12)
		assert.InDelta(t, 0.6, b.Transitivity, 1e-12)
	})

	t.Run("disconnected", func(t *testing.T) {
		b := BasicMetrics(mustGraph(t, [2]string{"a", "b"}, [2]string{"c", "d"}))
		assert.False(t, b.IsConnected)
		assert.Equal(t, 2, b.Components)
	})

	t.Run("empty", func(t *testing.T) {
		b := BasicMetrics(New())
		assert.Equal(t, Basic{}, b)
	})
}

func TestClustering(t *testing.T) {
	c := Clustering(barbell(t))
	assert.InDelta(t, 1.0, c["a"], 1e-12)
	assert.InDelta(t, 1.0/3.0, c["c"], 1e-12)
}

func TestDegreeAndBetweennessOnPath(t *testing.T) {
	ctx := context.Background()
	g := pathGraph(t)

	deg, err := CentralityOf(ctx, g, Degree, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, deg["b"], 1e-12)
	assert.InDelta(t, 0.5, deg["a"], 1e-12)

	btw, err := CentralityOf(ctx, g, Betweenness, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, btw["b"], 1e-12)
	assert.Zero(t, btw["a"])
	assert.Zero(t, btw["c"])
}

func TestClosenessCentrality(t *testing.T) {
	ctx := context.Background()

	c, err := CentralityOf(ctx, pathGraph(t), Closeness, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c["b"], 1e-12)
	assert.InDelta(t, 2.0/3.0, c["a"], 1e-12)

	// Wasserman-Faust scaling for a 2-node component inside 4 nodes.
	c, err = CentralityOf(ctx, mustGraph(t, [2]string{"a", "b"}, [2]string{"c", "d"}), Closeness, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, c["a"], 1e-12)
}

func TestEigenvectorCentrality(t *testing.T) {
	ctx := context.Background()

	s, err := CentralityOf(ctx, pathGraph(t), Eigenvector, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, s["b"], 1e-4)
	assert.InDelta(t, 0.5, s["a"], 1e-4)
	assert.InDelta(t, s["a"], s["c"], 1e-9)

	var sumSq float64
	for _, v := range s {
		sumSq += v * v
	}
	assert.InDelta(t, 1.0, sumSq, 1e-9)
}

func TestEigenvectorNonConvergenceIsAnError(t *testing.T) {
	s, err := CentralityOf(context.Background(), pathGraph(t), Eigenvector, Options{MaxIter: 1})
	assert.Nil(t, s)
	require.ErrorIs(t, err, ErrNotConverged)

	var nc *NotConvergedError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, 1, nc.Iterations)
}

func TestCentralityAllKinds(t *testing.T) {
	all, err := Centrality(context.Background(), barbell(t), Options{})
	require.NoError(t, err)
	require.Len(t, all, len(Kinds))
	for _, k := range Kinds {
		assert.Len(t, all[k], 6, "kind %s", k)
	}

	_, err = Centrality(context.Background(), pathGraph(t), Options{MaxIter: 1})
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestCentralityCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CentralityOf(ctx, pathGraph(t), Closeness, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTopNodes(t *testing.T) {
	ctx := context.Background()

	top, err := TopNodes(ctx, pathGraph(t), Degree, 3, Options{})
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "b", top[0].Node)
	// equal scores fall back to node id order
	assert.Equal(t, "a", top[1].Node)
	assert.Equal(t, "c", top[2].Node)

	top, err = TopNodes(ctx, pathGraph(t), Degree, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, []NodeScore{{Node: "b", Score: 1}}, top)

	_, err = TopNodes(ctx, pathGraph(t), Kind("pagerank"), 3, Options{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), "pagerank")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("closeness")
	require.NoError(t, err)
	assert.Equal(t, Closeness, k)

	_, err = ParseKind("katz")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRankKeepsAllWhenNNotPositive(t *testing.T) {
	r := Rank(Scores{"x": 1, "y": 2}, 0)
	assert.Equal(t, []NodeScore{{"y", 2}, {"x", 1}}, r)
}

func TestCommunitiesBarbell(t *testing.T) {
	g := barbell(t)
	res := Communities(g, CommunityOptions{Seed: 42})

	require.Len(t, res.Communities, 2)
	assert.Equal(t, []string{"a", "b", "c"}, res.Communities[0])
	assert.Equal(t, []string{"d", "e", "f"}, res.Communities[1])
	assert.Greater(t, res.Modularity, 0.3)

	again := Communities(g, CommunityOptions{Seed: 42})
	assert.Equal(t, res, again)

	m := Membership(res.Communities)
	assert.Equal(t, m["a"], m["c"])
	assert.NotEqual(t, m["a"], m["d"])
}

func TestCommunitiesAreDisjointAndCover(t *testing.T) {
	g := mustGraph(t,
		[2]string{"1", "2"}, [2]string{"2", "3"}, [2]string{"3", "1"},
		[2]string{"3", "4"}, [2]string{"4", "5"}, [2]string{"5", "6"},
		[2]string{"6", "4"}, [2]string{"7", "8"},
	)
	res := Communities(g, CommunityOptions{Seed: 7})

	seen := make(map[string]bool)
	for _, c := range res.Communities {
		require.NotEmpty(t, c)
		for _, n := range c {
			assert.False(t, seen[n], "node %s in two communities", n)
			seen[n] = true
		}
	}
	assert.Len(t, seen, g.NumNodes())
}

func TestCommunitiesEdgeCases(t *testing.T) {
	assert.Empty(t, Communities(New(), CommunityOptions{}).Communities)

	g := New()
	require.NoError(t, g.AddNode("x"))
	require.NoError(t, g.AddNode("y"))
	res := Communities(g, CommunityOptions{})
	assert.Equal(t, [][]string{{"x"}, {"y"}}, res.Communities)
	assert.Zero(t, res.Modularity)
}

func TestLargestCliques(t *testing.T) {
	ctx := context.Background()
	g := mustGraph(t,
		[2]string{"a", "b"}, [2]string{"a", "c"}, [2]string{"a", "d"},
		[2]string{"b", "c"}, [2]string{"b", "d"}, [2]string{"c", "d"},
		[2]string{"d", "e"}, [2]string{"e", "f"},
	)

	cliques, err := LargestCliques(ctx, g, 2, CliqueOptions{})
	require.NoError(t, err)
	require.Len(t, cliques, 2)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cliques[0])
	assert.Equal(t, []string{"d", "e"}, cliques[1])

	all, err := LargestCliques(ctx, g, 10, CliqueOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLargestCliquesBudget(t *testing.T) {
	g := barbell(t)
	_, err := LargestCliques(context.Background(), g, 1, CliqueOptions{MaxNodes: 5})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	_, err = LargestCliques(context.Background(), g, 1, CliqueOptions{MaxEdges: 3})
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	_, err = LargestCliques(ctx, g, 1, CliqueOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// multipartite joins every node to every node outside its own group, which
// gives size^groups maximal cliques.
func multipartite(t *testing.T, groups, size int) *Graph {
	t.Helper()
	var pairs [][2]string
	for a := 0; a < groups*size; a++ {
		for b := a + 1; b < groups*size; b++ {
			if a/size != b/size {
				pairs = append(pairs, [2]string{fmt.Sprintf("n%02d", a), fmt.Sprintf("n%02d", b)})
			}
		}
	}
	return mustGraph(t, pairs...)
}

func TestLargestCliquesMultipartite(t *testing.T) {
	g := multipartite(t, 3, 3)
	cliques, err := LargestCliques(context.Background(), g, 100, CliqueOptions{})
	require.NoError(t, err)
	require.Len(t, cliques, 27)
	for _, c := range cliques {
		assert.Len(t, c, 3)
	}
	assert.Equal(t, []string{"n00", "n03", "n06"}, cliques[0])
	assert.Equal(t, []string{"n02", "n05", "n08"}, cliques[26])

	top, err := LargestCliques(context.Background(), g, 2, CliqueOptions{})
	require.NoError(t, err)
	assert.Equal(t, cliques[:2], top)
}

func TestLargestCliquesResultBudget(t *testing.T) {
	g := multipartite(t, 3, 3)
	_, err := LargestCliques(context.Background(), g, 1, CliqueOptions{MaxCliques: 26})
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	_, err = LargestCliques(context.Background(), g, 1, CliqueOptions{MaxCliques: 27})
	assert.NoError(t, err)

	// 3^20 maximal cliques on 60 nodes.
	started := time.Now()
	_, err = LargestCliques(context.Background(), multipartite(t, 20, 3), 5, CliqueOptions{})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestLargestCliquesStopsOnDeadline(t *testing.T) {
	g := multipartite(t, 20, 3)
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := LargestCliques(ctx, g, 5, CliqueOptions{MaxCliques: math.MaxInt})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.LessOrEqual(t, runtime.NumGoroutine(), before)
}

func TestShortestPath(t *testing.T) {
	g := mustGraph(t, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"x", "y"})

	t.Run("same node", func(t *testing.T) {
		p, err := ShortestPath(g, "a", "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, p.Path)
		assert.Zero(t, p.Length)
		assert.True(t, p.Exists)
	})

	t.Run("connected", func(t *testing.T) {
		p, err := ShortestPath(g, "a", "c")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, p.Path)
		assert.Equal(t, 2.0, p.Length)
		assert.True(t, p.Exists)
	})

	t.Run("disconnected", func(t *testing.T) {
		p, err := ShortestPath(g, "a", "y")
		require.NoError(t, err)
		assert.False(t, p.Exists)
		assert.Equal(t, []string{}, p.Path)
		assert.True(t, math.IsInf(p.Length, 1))

		data, err := json.Marshal(p)
		require.NoError(t, err)
		assert.JSONEq(t, `{"source":"a","target":"y","path":[],"length":null,"exists":false}`, string(data))
	})

	t.Run("unknown node", func(t *testing.T) {
		_, err := ShortestPath(g, "a", "zz")
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("weights are ignored", func(t *testing.T) {
		wg, err := FromEdges([]Edge{
			{Source: "s", Target: "t", Weight: 100},
			{Source: "s", Target: "m", Weight: 1},
			{Source: "m", Target: "t", Weight: 1},
		})
		require.NoError(t, err)
		p, err := ShortestPath(wg, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, []string{"s", "t"}, p.Path)
		assert.Equal(t, 1.0, p.Length)
	})
}
