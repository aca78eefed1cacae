package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/graphstore"
	"github.com/onaplatform/ona-api/internal/ingest"
	"github.com/onaplatform/ona-api/internal/websocket"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")

	rec := env.postJSON("/graph/query", env.proKey, map[string]interface{}{"tenant_id": "acme", "max_nodes": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[QueryResponse](t, rec)

	assert.Equal(t, "acme", resp.TenantID)
	require.Len(t, resp.Nodes, 2)
	assert.Equal(t, "carol", resp.Nodes[0].ID)
	assert.Equal(t, 3, resp.Nodes[0].Degree)
	assert.Equal(t, "alice", resp.Nodes[1].ID)
	assert.Positive(t, resp.Nodes[0].Group)
	require.Len(t, resp.Links, 1)
	assert.Equal(t, 4, resp.TotalNodes)
	assert.Equal(t, 4, resp.TotalEdges)
	assert.True(t, resp.Truncated)
}

func TestQueryFilters(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
		wantNodes  []string
	}{
		{
			name:       "wildcard node filter",
			body:       map[string]interface{}{"tenant_id": "acme", "filters": map[string]interface{}{"nodes": []string{"dav*"}}},
			wantStatus: http.StatusOK,
			wantNodes:  []string{"carol", "dave"},
		},
		{
			name:       "min weight",
			body:       map[string]interface{}{"tenant_id": "acme", "filters": map[string]interface{}{"min_weight": 2}},
			wantStatus: http.StatusOK,
			wantNodes:  []string{"bob", "carol"},
		},
		{
			name:       "negative max nodes",
			body:       map[string]interface{}{"tenant_id": "acme", "max_nodes": -1},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty pattern",
			body:       map[string]interface{}{"tenant_id": "acme", "filters": map[string]interface{}{"nodes": []string{" "}}},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON("/graph/query", env.proKey, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantNodes == nil {
				return
			}
			resp := decodeBody[QueryResponse](t, rec)
			ids := make([]string, 0, len(resp.Nodes))
			for _, n := range resp.Nodes {
				ids = append(ids, n.ID)
			}
			assert.ElementsMatch(t, tt.wantNodes, ids)
			assert.False(t, resp.Truncated)
		})
	}
}

func TestQueryOnEmptyGraph(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postJSON("/graph/query", env.proKey, map[string]string{"tenant_id": "acme"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[QueryResponse](t, rec)
	assert.Empty(t, resp.Nodes)
	assert.Empty(t, resp.Links)
	assert.Zero(t, resp.TotalNodes)
}

func TestEffectiveMaxNodes(t *testing.T) {
	env := newTestEnv(t)
	demo, err := env.licenses.Resolve(t.Context(), "")
	require.NoError(t, err)
	pro, err := env.licenses.Resolve(t.Context(), env.proKey)
	require.NoError(t, err)

	assert.Equal(t, 100, effectiveMaxNodes(demo, 0))
	assert.Equal(t, 100, effectiveMaxNodes(demo, 5000))
	assert.Equal(t, 10, effectiveMaxNodes(demo, 10))
	assert.Equal(t, defaultQueryNodes, effectiveMaxNodes(pro, 0))
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
		check      func(t *testing.T, results interface{})
	}{
		{
			name:       "basic",
			body:       map[string]interface{}{"tenant_id": "acme", "metric_type": "basic"},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, results interface{}) {
				basic := results.(map[string]interface{})
				assert.Equal(t, float64(4), basic["node_count"])
				assert.Equal(t, float64(4), basic["edge_count"])
				assert.Equal(t, true, basic["is_connected"])
			},
		},
		{
			name:       "degree top node",
			body:       map[string]interface{}{"tenant_id": "acme", "metric_type": "degree", "top_n": 2},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, results interface{}) {
				ranked := results.([]interface{})
				require.Len(t, ranked, 2)
				assert.Equal(t, "carol", ranked[0].(map[string]interface{})["node"])
			},
		},
		{
			name:       "centrality covers every measure",
			body:       map[string]interface{}{"tenant_id": "acme", "metric_type": "centrality", "top_n": 1},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, results interface{}) {
				all := results.(map[string]interface{})
				for _, kind := range []string{"degree", "betweenness", "closeness", "eigenvector"} {
					require.Contains(t, all, kind)
					assert.Len(t, all[kind], 1)
				}
			},
		},
		{
			name:       "cliques",
			body:       map[string]interface{}{"tenant_id": "acme", "metric_type": "cliques"},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, results interface{}) {
				cliques := results.(map[string]interface{})["cliques"].([]interface{})
				require.NotEmpty(t, cliques)
				assert.ElementsMatch(t, []interface{}{"alice", "bob", "carol"}, cliques[0])
			},
		},
		{
			name:       "community",
			body:       map[string]interface{}{"tenant_id": "acme", "metric_type": "community"},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, results interface{}) {
				assert.NotEmpty(t, results.(map[string]interface{})["communities"])
			},
		},
		{
			name:       "unknown metric",
			body:       map[string]interface{}{"tenant_id": "acme", "metric_type": "pagerank"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative top_n",
			body:       map[string]interface{}{"tenant_id": "acme", "metric_type": "degree", "top_n": -3},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON("/graph/metrics", env.proKey, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.check == nil {
				return
			}
			resp := decodeBody[map[string]interface{}](t, rec)
			assert.Equal(t, "acme", resp["tenant_id"])
			tt.check(t, resp["results"])
		})
	}
}

func TestUnknownMetricNamesAlternatives(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postJSON("/graph/metrics", env.proKey, map[string]string{"tenant_id": "acme", "metric_type": "pagerank"})
	apiErr := requireAPIError(t, rec, http.StatusBadRequest, "invalid_input")
	assert.Contains(t, apiErr.ErrorMessage, `"pagerank"`)
	assert.Contains(t, apiErr.ErrorMessage, "betweenness")
}

func TestCommunities(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")

	rec := env.get("/graph/communities/acme", env.proKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, "louvain", body["algorithm"])
	assert.NotEmpty(t, body["communities"])
	assert.Contains(t, body, "modularity")

	rec = env.get("/graph/communities/acme?algorithm=girvan_newman", env.proKey)
	apiErr := requireAPIError(t, rec, http.StatusBadRequest, "invalid_input")
	assert.Contains(t, apiErr.ErrorMessage, "unsupported algorithm")

	requireAPIError(t, env.get("/graph/communities/acme?resolution=-1", env.proKey), http.StatusBadRequest, "invalid_input")
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")

	rec := env.get("/graph/stats/acme", env.proKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decodeBody[StatsResponse](t, rec)
	assert.Equal(t, "acme", stats.TenantID)
	assert.Equal(t, 4, stats.NodeCount)
	assert.Equal(t, 4, stats.EdgeCount)
	assert.Equal(t, 1, stats.Components)
	assert.True(t, stats.IsConnected)
}

func TestPaths(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")

	rec := env.get("/graph/paths/acme?source=alice&target=dave", env.proKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, float64(2), body["length"])
	assert.Equal(t, []interface{}{"alice", "carol", "dave"}, body["path"])

	requireAPIError(t, env.get("/graph/paths/acme?source=alice", env.proKey), http.StatusBadRequest, "invalid_input")
	requireAPIError(t, env.get("/graph/paths/acme?source=alice&target=zoe", env.proKey), http.StatusNotFound, "not_found")
}

func TestCliques(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")

	rec := env.get("/graph/cliques/acme?n=1", env.proKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, float64(1), body["count"])

	for _, q := range []string{"n=0", "n=101", "n=many"} {
		requireAPIError(t, env.get("/graph/cliques/acme?"+q, env.proKey), http.StatusBadRequest, "invalid_input")
	}
}

func TestLoadGraphRefusesGraphsAboveCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.router.graph.FetchLimit = 10
	ctx := context.Background()
	_, err := env.graphs.WriteEdges(ctx, "acme", densePairs(7))
	require.NoError(t, err)

	unlimited := &licensing.ResolvedLicense{AccountID: "acme", Features: licensing.TierDefinition{MaxEdges: licensing.Unlimited()}}
	_, err = env.router.loadGraph(ctx, unlimited, "graph_stats", "acme", graphstore.Filter{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeLimit, apperrors.TypeOf(err))
	var limitErr *licensing.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int64(10), limitErr.Limit)
	assert.Equal(t, int64(21), limitErr.Current)

	bounded := &licensing.ResolvedLicense{AccountID: "acme", Features: licensing.TierDefinition{MaxEdges: licensing.Max(30)}}
	g, err := env.router.loadGraph(ctx, bounded, "graph_stats", "acme", graphstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 21, g.NumEdges())
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")

	rec := env.get("/graph/export/acme?format=csv", env.proKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ona-report-acme-")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, rec.Body.String(), "# SUMMARY")

	rec = env.get("/graph/export/acme", env.proKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	requireAPIError(t, env.get("/graph/export/acme?format=docx", env.proKey), http.StatusBadRequest, "invalid_input")
	requireAPIError(t, env.get("/graph/export/demo?format=csv", ""), http.StatusForbidden, "forbidden")
}

func TestDeleteGraph(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme")
	env.router.deps.Sources.Register(ingest.Source{TenantID: "acme", Type: SourceSQL, Status: ingest.StatusPending})

	req := httptest.NewRequest(http.MethodDelete, "/graph/acme", nil)
	rec := env.do(req, env.proKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, "deleted", body["status"])
	assert.Equal(t, float64(4), body["deleted_nodes"])
	assert.Equal(t, float64(1), body["sources_removed"])

	stats := decodeBody[StatsResponse](t, env.get("/graph/stats/acme", env.proKey))
	assert.Zero(t, stats.NodeCount)

	req = httptest.NewRequest(http.MethodDelete, "/graph/demo", nil)
	requireAPIError(t, env.do(req, ""), http.StatusForbidden, "forbidden")
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	env.seed("globex")
	env.seed("acme:team1")

	tests := []struct {
		name       string
		path       string
		key        string
		wantStatus int
	}{
		{"own tenant", "/graph/stats/acme", env.proKey, http.StatusOK},
		{"own sub tenant", "/graph/stats/acme:team1", env.proKey, http.StatusOK},
		{"other account", "/graph/stats/globex", env.proKey, http.StatusForbidden},
		{"lookalike prefix", "/graph/stats/acmecorp", env.proKey, http.StatusForbidden},
		{"demo reads demo", "/graph/stats/demo", "", http.StatusOK},
		{"demo cannot read accounts", "/graph/stats/globex", "", http.StatusForbidden},
		{"unknown key", "/graph/stats/acme", "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(tt.path, tt.key)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/graph/stream/acme"

	conn, resp, err := gws.DefaultDialer.Dial(wsURL+"?api_key="+env.proKey, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, websocket.EventWelcome, msg.Type)
	assert.Equal(t, "acme", msg.TenantID)

	require.Eventually(t, func() bool { return env.hub.ClientCount("acme") == 1 }, 5*time.Second, 10*time.Millisecond)
	env.router.publish("acme", websocket.EventGraphUpdated, map[string]int{"nodes_created": 2})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, websocket.EventGraphUpdated, msg.Type)

	_, resp, err = gws.DefaultDialer.Dial(strings.Replace(wsURL, "acme", "globex", 1)+"?api_key="+env.basicKey, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
