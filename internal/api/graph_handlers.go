package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/graphstore"
	"github.com/onaplatform/ona-api/internal/utils"
	"github.com/onaplatform/ona-api/internal/websocket"
	"github.com/onaplatform/ona-api/pkg/graphmetrics"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/onaplatform/ona-api/pkg/reporting"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueryNodes = 1000
	defaultCliques    = 5
	maxCliques        = 100
	algorithmLouvain  = "louvain"
)

// Metric types accepted by /graph/metrics.
const (
	MetricBasic      = "basic"
	MetricCentrality = "centrality"
	MetricCommunity  = "community"
	MetricClustering = "clustering"
	MetricCliques    = "cliques"
)

// QueryFilters narrows /graph/query. Node patterns use * and ? wildcards;
// an edge is kept when either endpoint matches one of them.
type QueryFilters struct {
	Nodes     []string `json:"nodes"`
	MinWeight float64  `json:"min_weight"`
}

type queryRequest struct {
	TenantID string        `json:"tenant_id"`
	Filters  *QueryFilters `json:"filters"`
	MaxNodes int           `json:"max_nodes"`
}

// GraphNode is a node shaped for the force-graph frontend.
type GraphNode struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Group  int    `json:"group"`
	Degree int    `json:"degree"`
}

// GraphLink is an undirected link between two returned nodes.
type GraphLink struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// QueryResponse is the visualisation payload of /graph/query.
type QueryResponse struct {
	TenantID   string      `json:"tenant_id"`
	Nodes      []GraphNode `json:"nodes"`
	Links      []GraphLink `json:"links"`
	TotalNodes int         `json:"total_nodes"`
	TotalEdges int         `json:"total_edges"`
	Truncated  bool        `json:"truncated"`
}

// handleQuery returns the best-connected max_nodes nodes of the tenant's
// graph, grouped by community, with the links among them.
func (r *Router) handleQuery(w http.ResponseWriter, req *http.Request) {
	const op = "graph_query"
	lic := LicenseFromContext(req.Context())

	var body queryRequest
	if err := utils.DecodeJSONBody(w, req, &body); err != nil {
		writeError(w, req, apperrors.InvalidInput(op, "", err))
		return
	}
	tenantID, err := authorizeTenant(lic, op, body.TenantID)
	if err != nil {
		writeError(w, req, err)
		return
	}
	filters := QueryFilters{}
	if body.Filters != nil {
		filters = *body.Filters
	}
	if err := validateQuery(body.MaxNodes, filters); err != nil {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, err))
		return
	}
	maxNodes := effectiveMaxNodes(lic, body.MaxNodes)

	g, err := r.loadGraph(req.Context(), lic, op, tenantID, graphstore.Filter{MinWeight: filters.MinWeight})
	if err != nil {
		writeError(w, req, err)
		return
	}
	if len(filters.Nodes) > 0 {
		if g, err = filterByNodes(g, filters.Nodes); err != nil {
			writeError(w, req, err)
			return
		}
	}

	result, err := runAlgorithm(req.Context(), r.graph.AlgorithmTimeout, algorithmLouvain,
		func(context.Context) (graphmetrics.CommunityResult, error) {
			return graphmetrics.Communities(g, r.communityOptions(0)), nil
		})
	if err != nil {
		writeError(w, req, algorithmError(op, tenantID, err))
		return
	}

	writeJSON(w, req, http.StatusOK, buildQueryResponse(tenantID, g, graphmetrics.Membership(result.Communities), maxNodes))
}

func validateQuery(maxNodes int, f QueryFilters) error {
	if maxNodes < 0 {
		return errors.New("max_nodes must not be negative")
	}
	if f.MinWeight < 0 || math.IsNaN(f.MinWeight) {
		return errors.New("filters.min_weight must not be negative")
	}
	for _, p := range f.Nodes {
		if strings.TrimSpace(p) == "" {
			return errors.New("filters.nodes must not contain empty patterns")
		}
	}
	return nil
}

// effectiveMaxNodes caps the requested node count by the license.
func effectiveMaxNodes(lic *licensing.ResolvedLicense, requested int) int {
	if requested == 0 {
		requested = defaultQueryNodes
	}
	if limit, ok := lic.Features.MaxNodes.Value(); ok && int64(requested) > limit {
		return int(limit)
	}
	return requested
}

func filterByNodes(g *graphmetrics.Graph, patterns []string) (*graphmetrics.Graph, error) {
	matches := func(id string) bool {
		for _, p := range patterns {
			if wildcard.Match(p, id) {
				return true
			}
		}
		return false
	}
	var kept []graphmetrics.Edge
	for _, e := range g.Edges() {
		if matches(e.Source) || matches(e.Target) {
			kept = append(kept, e)
		}
	}
	return graphmetrics.FromEdges(kept)
}

func buildQueryResponse(tenantID string, g *graphmetrics.Graph, membership map[string]int, maxNodes int) QueryResponse {
	degrees := make(graphmetrics.Scores, g.NumNodes())
	for _, id := range g.Nodes() {
		degrees[id] = float64(g.Degree(id))
	}
	ranked := graphmetrics.Rank(degrees, maxNodes)

	resp := QueryResponse{
		TenantID:   tenantID,
		Nodes:      make([]GraphNode, 0, len(ranked)),
		Links:      []GraphLink{},
		TotalNodes: g.NumNodes(),
		TotalEdges: g.NumEdges(),
		Truncated:  len(ranked) < g.NumNodes(),
	}
	kept := make(map[string]bool, len(ranked))
	for _, ns := range ranked {
		kept[ns.Node] = true
		resp.Nodes = append(resp.Nodes, GraphNode{
			ID:     ns.Node,
			Label:  ns.Node,
			Group:  membership[ns.Node] + 1,
			Degree: int(ns.Score),
		})
	}
	for _, e := range g.Edges() {
		if kept[e.Source] && kept[e.Target] {
			resp.Links = append(resp.Links, GraphLink{Source: e.Source, Target: e.Target, Value: e.Weight})
		}
	}
	return resp
}

type metricsRequest struct {
	TenantID   string  `json:"tenant_id"`
	MetricType string  `json:"metric_type"`
	TopN       int     `json:"top_n"`
	Resolution float64 `json:"resolution"`
}

// MetricsResponse wraps any metric result.
type MetricsResponse struct {
	TenantID   string      `json:"tenant_id"`
	MetricType string      `json:"metric_type"`
	Results    interface{} `json:"results"`
}

var metricTypes = []string{
	MetricBasic, MetricCentrality,
	string(graphmetrics.Degree), string(graphmetrics.Betweenness),
	string(graphmetrics.Closeness), string(graphmetrics.Eigenvector),
	MetricCommunity, MetricClustering, MetricCliques,
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	const op = "graph_metrics"
	lic := LicenseFromContext(req.Context())

	var body metricsRequest
	if err := utils.DecodeJSONBody(w, req, &body); err != nil {
		writeError(w, req, apperrors.InvalidInput(op, "", err))
		return
	}
	tenantID, err := authorizeTenant(lic, op, body.TenantID)
	if err != nil {
		writeError(w, req, err)
		return
	}
	metricType := strings.ToLower(strings.TrimSpace(body.MetricType))
	if !knownMetric(metricType) {
		writeError(w, req, apperrors.InvalidInput(op, tenantID,
			fmt.Errorf("unknown metric_type %q (expected one of %s)", body.MetricType, strings.Join(metricTypes, ", "))))
		return
	}
	if body.TopN < 0 || body.Resolution < 0 {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, errors.New("top_n and resolution must not be negative")))
		return
	}

	g, err := r.loadGraph(req.Context(), lic, op, tenantID, graphstore.Filter{})
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.checkGraphLimits(lic, op, tenantID, g.NumNodes(), g.NumEdges()); err != nil {
		writeError(w, req, err)
		return
	}

	results, err := runAlgorithm(req.Context(), r.graph.AlgorithmTimeout, metricType,
		func(ctx context.Context) (interface{}, error) {
			return r.computeMetric(ctx, g, metricType, body)
		})
	if err != nil {
		writeError(w, req, algorithmError(op, tenantID, err))
		return
	}
	writeJSON(w, req, http.StatusOK, MetricsResponse{TenantID: tenantID, MetricType: metricType, Results: results})
}

func knownMetric(name string) bool {
	for _, m := range metricTypes {
		if m == name {
			return true
		}
	}
	return false
}

func (r *Router) computeMetric(ctx context.Context, g *graphmetrics.Graph, metricType string, body metricsRequest) (interface{}, error) {
	switch metricType {
	case MetricBasic:
		return graphmetrics.BasicMetrics(g), nil
	case MetricCentrality:
		all, err := graphmetrics.Centrality(ctx, g, r.centralityOptions())
		if err != nil {
			return nil, err
		}
		out := make(map[graphmetrics.Kind][]graphmetrics.NodeScore, len(all))
		for kind, scores := range all {
			out[kind] = graphmetrics.Rank(scores, body.TopN)
		}
		return out, nil
	case MetricCommunity:
		return graphmetrics.Communities(g, r.communityOptions(body.Resolution)), nil
	case MetricClustering:
		return graphmetrics.Rank(graphmetrics.Clustering(g), body.TopN), nil
	case MetricCliques:
		n := body.TopN
		if n == 0 {
			n = defaultCliques
		}
		cliques, err := graphmetrics.LargestCliques(ctx, g, n, r.cliqueOptions())
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"cliques": cliques}, nil
	default:
		kind, err := graphmetrics.ParseKind(metricType)
		if err != nil {
			return nil, err
		}
		return graphmetrics.TopNodes(ctx, g, kind, body.TopN, r.centralityOptions())
	}
}

func (r *Router) handleCommunities(w http.ResponseWriter, req *http.Request) {
	const op = "detect_communities"
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, op, req.PathValue("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}

	q := req.URL.Query()
	algorithm := strings.ToLower(strings.TrimSpace(q.Get("algorithm")))
	if algorithm == "" {
		algorithm = algorithmLouvain
	}
	if algorithm != algorithmLouvain {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, fmt.Errorf("unsupported algorithm %q", q.Get("algorithm"))))
		return
	}
	var resolution float64
	if raw := q.Get("resolution"); raw != "" {
		resolution, err = strconv.ParseFloat(raw, 64)
		if err != nil || resolution < 0 {
			writeError(w, req, apperrors.InvalidInput(op, tenantID, errors.New("resolution must be a non-negative number")))
			return
		}
	}

	g, err := r.loadGraph(req.Context(), lic, op, tenantID, graphstore.Filter{})
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.checkGraphLimits(lic, op, tenantID, g.NumNodes(), g.NumEdges()); err != nil {
		writeError(w, req, err)
		return
	}
	result, err := runAlgorithm(req.Context(), r.graph.AlgorithmTimeout, algorithm,
		func(context.Context) (graphmetrics.CommunityResult, error) {
			return graphmetrics.Communities(g, r.communityOptions(resolution)), nil
		})
	if err != nil {
		writeError(w, req, algorithmError(op, tenantID, err))
		return
	}
	writeJSON(w, req, http.StatusOK, map[string]interface{}{
		"tenant_id":   tenantID,
		"algorithm":   algorithm,
		"communities": result.Communities,
		"modularity":  result.Modularity,
	})
}

// StatsResponse is the summary of /graph/stats.
type StatsResponse struct {
	TenantID string `json:"tenant_id"`
	graphmetrics.Basic
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	const op = "graph_stats"
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, op, req.PathValue("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	g, err := r.loadGraph(req.Context(), lic, op, tenantID, graphstore.Filter{})
	if err != nil {
		writeError(w, req, err)
		return
	}
	basic, err := runAlgorithm(req.Context(), r.graph.AlgorithmTimeout, MetricBasic,
		func(context.Context) (graphmetrics.Basic, error) { return graphmetrics.BasicMetrics(g), nil })
	if err != nil {
		writeError(w, req, algorithmError(op, tenantID, err))
		return
	}
	writeJSON(w, req, http.StatusOK, StatsResponse{TenantID: tenantID, Basic: basic})
}

func (r *Router) handlePaths(w http.ResponseWriter, req *http.Request) {
	const op = "shortest_path"
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, op, req.PathValue("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	source := strings.TrimSpace(req.URL.Query().Get("source"))
	target := strings.TrimSpace(req.URL.Query().Get("target"))
	if source == "" || target == "" {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, errors.New("source and target are required")))
		return
	}

	g, err := r.loadGraph(req.Context(), lic, op, tenantID, graphstore.Filter{})
	if err != nil {
		writeError(w, req, err)
		return
	}
	res, err := runAlgorithm(req.Context(), r.graph.AlgorithmTimeout, "shortest_path",
		func(context.Context) (graphmetrics.PathResult, error) {
			return graphmetrics.ShortestPath(g, source, target)
		})
	if err != nil {
		writeError(w, req, algorithmError(op, tenantID, err))
		return
	}

	var length *float64
	if res.Exists {
		length = &res.Length
	}
	writeJSON(w, req, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"source":    res.Source,
		"target":    res.Target,
		"path":      res.Path,
		"length":    length,
		"exists":    res.Exists,
	})
}

func (r *Router) handleCliques(w http.ResponseWriter, req *http.Request) {
	const op = "largest_cliques"
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, op, req.PathValue("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	n, err := utils.QueryInt(req, "n", defaultCliques)
	if err == nil && (n < 1 || n > maxCliques) {
		err = fmt.Errorf("n must be between 1 and %d", maxCliques)
	}
	if err != nil {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, err))
		return
	}

	g, err := r.loadGraph(req.Context(), lic, op, tenantID, graphstore.Filter{})
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.checkGraphLimits(lic, op, tenantID, g.NumNodes(), g.NumEdges()); err != nil {
		writeError(w, req, err)
		return
	}
	cliques, err := runAlgorithm(req.Context(), r.graph.AlgorithmTimeout, MetricCliques,
		func(ctx context.Context) ([][]string, error) {
			return graphmetrics.LargestCliques(ctx, g, n, r.cliqueOptions())
		})
	if err != nil {
		writeError(w, req, algorithmError(op, tenantID, err))
		return
	}
	writeJSON(w, req, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"cliques":   cliques,
		"count":     len(cliques),
	})
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// handleExport renders a network report as PDF, XLSX or CSV.
func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) {
	const op = "export_report"
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, op, req.PathValue("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.requireFeature(lic, licensing.FeatureExport, op, tenantID); err != nil {
		writeError(w, req, err)
		return
	}
	format := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("format")))
	if format == "" {
		format = string(reporting.FormatPDF)
	}
	gen, err := reporting.ForFormat(format)
	if err != nil {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, err))
		return
	}

	g, err := r.loadGraph(req.Context(), lic, op, tenantID, graphstore.Filter{})
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.checkGraphLimits(lic, op, tenantID, g.NumNodes(), g.NumEdges()); err != nil {
		writeError(w, req, err)
		return
	}
	data, err := runAlgorithm(req.Context(), r.graph.AlgorithmTimeout, "report",
		func(ctx context.Context) (*reporting.ReportData, error) {
			return reporting.Collect(ctx, tenantID, g, reporting.CollectOptions{
				Centrality: r.centralityOptions(),
				Community:  r.communityOptions(0),
			})
		})
	if err != nil {
		writeError(w, req, algorithmError(op, tenantID, err))
		return
	}
	data.Tier = string(lic.Tier)

	body, err := gen.Generate(data)
	if err != nil {
		writeError(w, req, fmt.Errorf("generate %s report: %w", format, err))
		return
	}

	filename := fmt.Sprintf("ona-report-%s-%s.%s",
		unsafeFilename.ReplaceAllString(tenantID, "_"), data.GeneratedAt.Format("20060102"), format)
	w.Header().Set("Content-Type", gen.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Debug().Err(err).Str("tenant", tenantID).Msg("Failed to write report")
	}
}

// handleStream upgrades to a websocket receiving the tenant's graph events.
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	const op = "graph_stream"
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, op, req.PathValue("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.requireFeature(lic, licensing.FeatureStreaming, op, tenantID); err != nil {
		writeError(w, req, err)
		return
	}
	if r.deps.Hub == nil {
		writeError(w, req, apperrors.Dependency(op, tenantID, errors.New("graph stream is not running")))
		return
	}
	r.deps.Hub.ServeTenant(w, req, tenantID)
}

// handleDeleteGraph removes every node and source of the tenant.
func (r *Router) handleDeleteGraph(w http.ResponseWriter, req *http.Request) {
	const op = "delete_graph"
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, op, req.PathValue("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.requireFeature(lic, licensing.FeatureDataInput, op, tenantID); err != nil {
		writeError(w, req, err)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.graph.QueryTimeout)
	defer cancel()
	deleted, err := r.deps.Graphs.DeleteTenant(ctx, tenantID)
	if err != nil {
		writeError(w, req, apperrors.Dependency(op, tenantID, err))
		return
	}
	removed := r.deps.Sources.DeleteTenant(tenantID)
	r.publish(tenantID, websocket.EventGraphDeleted, map[string]int{"deleted_nodes": deleted})

	log.Info().Str("tenant", tenantID).Int("nodes", deleted).Int("sources", removed).Msg("Deleted tenant graph")
	writeJSON(w, req, http.StatusOK, map[string]interface{}{
		"tenant_id":       tenantID,
		"status":          "deleted",
		"deleted_nodes":   deleted,
		"sources_removed": removed,
	})
}
