package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog/log"
)

const (
	nodeLabel = "Node"
	edgeType  = "EDGE"
)

var (
	fetchEdgesQuery = `
	MATCH (source:` + nodeLabel + ` {tenant_id: $tenant_id})
	      -[edge:` + edgeType + ` {tenant_id: $tenant_id}]->
	      (target:` + nodeLabel + ` {tenant_id: $tenant_id})
	WHERE edge.weight >= $min_weight
	RETURN source.id AS source_id,
	       target.id AS target_id,
	       edge.weight AS weight,
	       properties(edge) AS edge_props
	ORDER BY source_id, target_id
	LIMIT $limit`

	writeEdgesQuery = `
	UNWIND $edges AS edge
	MERGE (source:` + nodeLabel + ` {id: edge.source, tenant_id: $tenant_id})
	MERGE (target:` + nodeLabel + ` {id: edge.target, tenant_id: $tenant_id})
	MERGE (source)-[rel:` + edgeType + ` {tenant_id: $tenant_id}]->(target)
	SET rel.weight = edge.weight,
	    rel.updated_at = datetime()`

	countQuery = `
	MATCH (n:` + nodeLabel + ` {tenant_id: $tenant_id})
	OPTIONAL MATCH (n)-[edge:` + edgeType + ` {tenant_id: $tenant_id}]->()
	RETURN count(DISTINCT n) AS node_count, count(edge) AS edge_count`

	deleteTenantQuery = `
	MATCH (n {tenant_id: $tenant_id})
	DETACH DELETE n
	RETURN count(n) AS deleted_count`

	pingQuery = `RETURN 1 AS ok`
)

// Neo4jOptions configures a Neo4jStore.
type Neo4jOptions struct {
	URI      string
	User     string
	Password string
	Database string
}

type queryFunc func(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)

// Neo4jStore keeps tenant graphs in Neo4j. The driver pools connections;
// each call runs as its own managed transaction.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	query  queryFunc
}

// NewNeo4jStore connects to Neo4j and verifies the connection.
func NewNeo4jStore(ctx context.Context, opts Neo4jOptions) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", opts.URI, err)
	}

	log.Info().Str("uri", opts.URI).Str("database", opts.Database).Msg("Connected to Neo4j")
	return &Neo4jStore{
		driver: driver,
		query: func(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
			return neo4j.ExecuteQuery(ctx, driver, query, params,
				neo4j.EagerResultTransformer,
				neo4j.ExecuteQueryWithDatabase(opts.Database))
		},
	}, nil
}

func (s *Neo4jStore) FetchEdges(ctx context.Context, tenantID string, f Filter) ([]Edge, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	result, err := s.query(ctx, fetchEdgesQuery, map[string]any{
		"tenant_id":  tenantID,
		"min_weight": f.MinWeight,
		"limit":      int64(f.limit()),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch edges: %w", err)
	}

	edges := make([]Edge, 0, len(result.Records))
	for _, rec := range result.Records {
		src, _ := rec.Get("source_id")
		dst, _ := rec.Get("target_id")
		weight, _ := rec.Get("weight")
		props, _ := rec.Get("edge_props")

		e := Edge{
			Source: fmt.Sprint(src),
			Target: fmt.Sprint(dst),
			Weight: toFloat(weight),
		}
		if m, ok := props.(map[string]any); ok {
			delete(m, "tenant_id")
			delete(m, "weight")
			if len(m) > 0 {
				e.Properties = m
			}
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func (s *Neo4jStore) WriteEdges(ctx context.Context, tenantID string, edges []Edge) (WriteSummary, error) {
	var sum WriteSummary
	if err := checkTenant(tenantID); err != nil {
		return sum, err
	}
	if len(edges) == 0 {
		return sum, nil
	}

	rows := make([]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{"source": e.Source, "target": e.Target, "weight": e.Weight}
	}
	result, err := s.query(ctx, writeEdgesQuery, map[string]any{
		"tenant_id": tenantID,
		"edges":     rows,
	})
	if err != nil {
		return sum, fmt.Errorf("write edges: %w", err)
	}
	if result.Summary != nil {
		c := result.Summary.Counters()
		sum.NodesCreated = c.NodesCreated()
		sum.RelationshipsCreated = c.RelationshipsCreated()
		sum.PropertiesSet = c.PropertiesSet()
	}
	return sum, nil
}

func (s *Neo4jStore) Count(ctx context.Context, tenantID string) (int, int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, 0, err
	}
	result, err := s.query(ctx, countQuery, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return 0, 0, fmt.Errorf("count graph: %w", err)
	}
	if len(result.Records) == 0 {
		return 0, 0, nil
	}
	nodes, _ := result.Records[0].Get("node_count")
	edges, _ := result.Records[0].Get("edge_count")
	return int(toFloat(nodes)), int(toFloat(edges)), nil
}

func (s *Neo4jStore) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, err
	}
	result, err := s.query(ctx, deleteTenantQuery, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return 0, fmt.Errorf("delete tenant: %w", err)
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	n, _ := result.Records[0].Get("deleted_count")
	return int(toFloat(n)), nil
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	result, err := s.query(ctx, pingQuery, nil)
	if err != nil {
		return fmt.Errorf("ping neo4j: %w", err)
	}
	if len(result.Records) != 1 {
		return fmt.Errorf("ping neo4j: unexpected result")
	}
	return nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
