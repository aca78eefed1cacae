package graphmetrics

import (
	"gonum.org/v1/gonum/graph/topo"
)

// Basic holds whole-graph summary metrics.
type Basic struct {
	NodeCount     int     `json:"node_count"`
	EdgeCount     int     `json:"edge_count"`
	Density       float64 `json:"density"`
	AvgDegree     float64 `json:"avg_degree"`
	AvgClustering float64 `json:"avg_clustering"`
	Transitivity  float64 `json:"transitivity"`
	IsConnected   bool    `json:"is_connected"`
	Components    int     `json:"components"`
}

// BasicMetrics computes summary metrics. An empty graph reports zeros and
// IsConnected=false.
func BasicMetrics(g *Graph) Basic {
	n := g.NumNodes()
	m := g.NumEdges()
	b := Basic{NodeCount: n, EdgeCount: m}
	if n == 0 {
		return b
	}
	b.AvgDegree = 2 * float64(m) / float64(n)
	if n > 1 {
		b.Density = 2 * float64(m) / (float64(n) * float64(n-1))
	}

	triangles, triads := g.triangleCounts()
	var sumClustering float64
	var sumTriangles, sumTriads float64
	for id := range triangles {
		if triads[id] > 0 {
			sumClustering += float64(triangles[id]) / float64(triads[id])
		}
		sumTriangles += float64(triangles[id])
		sumTriads += float64(triads[id])
	}
	b.AvgClustering = sumClustering / float64(n)
	if sumTriads > 0 {
		b.Transitivity = sumTriangles / sumTriads
	}

	b.Components = len(topo.ConnectedComponents(g.g))
	b.IsConnected = b.Components == 1
	return b
}

// Clustering returns the local clustering coefficient of every node.
func Clustering(g *Graph) Scores {
	triangles, triads := g.triangleCounts()
	out := make(Scores, len(triangles))
	for id := range triangles {
		var c float64
		if triads[id] > 0 {
			c = float64(triangles[id]) / float64(triads[id])
		}
		out[g.names[id]] = c
	}
	return out
}

// triangleCounts returns, per node id, the number of triangles through the
// node and the number of neighbour pairs (k*(k-1)/2).
func (g *Graph) triangleCounts() (triangles, triads []int) {
	adj := g.neighbours()
	triangles = make([]int, len(adj))
	triads = make([]int, len(adj))
	for u, nb := range adj {
		k := len(nb)
		triads[u] = k * (k - 1) / 2
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				if g.g.HasEdgeBetween(nb[i], nb[j]) {
					triangles[u]++
				}
			}
		}
	}
	return triangles, triads
}
