// Package graphstore persists tenant-scoped edge lists. Every node and
// relationship carries the tenant id; reads and deletes never cross tenants.
package graphstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onaplatform/ona-api/internal/config"
	"github.com/onaplatform/ona-api/internal/metrics"
	"github.com/onaplatform/ona-api/pkg/graphmetrics"
)

// DefaultFetchLimit caps FetchEdges when the filter sets no limit.
const DefaultFetchLimit = 10000

// ErrEmptyTenant is returned for calls without a tenant id.
var ErrEmptyTenant = errors.New("tenant id is required")

// Edge is a stored, directed relationship between two nodes of one tenant.
type Edge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Weight     float64        `json:"weight"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Filter narrows FetchEdges.
type Filter struct {
	MinWeight float64 `json:"min_weight"`
	Limit     int     `json:"limit"`
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultFetchLimit
	}
	return f.Limit
}

// WriteSummary reports what a WriteEdges call changed.
type WriteSummary struct {
	NodesCreated         int `json:"nodes_created"`
	RelationshipsCreated int `json:"relationships_created"`
	PropertiesSet        int `json:"properties_set"`
}

// Store is a tenant-isolated edge store.
type Store interface {
	// FetchEdges returns edges with weight >= MinWeight, at most Limit.
	FetchEdges(ctx context.Context, tenantID string, f Filter) ([]Edge, error)
	// WriteEdges upserts edges; repeated writes update weights in place.
	WriteEdges(ctx context.Context, tenantID string, edges []Edge) (WriteSummary, error)
	// Count reports how many nodes and relationships the tenant stores,
	// without the FetchEdges limit.
	Count(ctx context.Context, tenantID string) (nodes, edges int, err error)
	// DeleteTenant removes every node of the tenant and returns how many.
	DeleteTenant(ctx context.Context, tenantID string) (int, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open returns the store selected by cfg.Store, instrumented with metrics.
func Open(ctx context.Context, cfg config.GraphConfig) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return Instrument(NewMemoryStore()), nil
	case "neo4j":
		s, err := NewNeo4jStore(ctx, Neo4jOptions{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return nil, err
		}
		return Instrument(s), nil
	default:
		return nil, fmt.Errorf("unknown graph store %q", cfg.Store)
	}
}

// ToMetricEdges converts stored edges for graphmetrics.FromEdges.
func ToMetricEdges(edges []Edge) []graphmetrics.Edge {
	out := make([]graphmetrics.Edge, len(edges))
	for i, e := range edges {
		out[i] = graphmetrics.Edge{Source: e.Source, Target: e.Target, Weight: e.Weight}
	}
	return out
}

func checkTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrEmptyTenant
	}
	return nil
}

type instrumented struct {
	Store
}

// Instrument records a metric for every store call.
func Instrument(s Store) Store {
	return instrumented{Store: s}
}

func (i instrumented) FetchEdges(ctx context.Context, tenantID string, f Filter) ([]Edge, error) {
	edges, err := i.Store.FetchEdges(ctx, tenantID, f)
	metrics.RecordStoreQuery("fetch_edges", err)
	return edges, err
}

func (i instrumented) WriteEdges(ctx context.Context, tenantID string, edges []Edge) (WriteSummary, error) {
	sum, err := i.Store.WriteEdges(ctx, tenantID, edges)
	metrics.RecordStoreQuery("write_edges", err)
	return sum, err
}

func (i instrumented) Count(ctx context.Context, tenantID string) (int, int, error) {
	nodes, edges, err := i.Store.Count(ctx, tenantID)
	metrics.RecordStoreQuery("count", err)
	return nodes, edges, err
}

func (i instrumented) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	n, err := i.Store.DeleteTenant(ctx, tenantID)
	metrics.RecordStoreQuery("delete_tenant", err)
	return n, err
}

func (i instrumented) Ping(ctx context.Context) error {
	err := i.Store.Ping(ctx)
	metrics.RecordStoreQuery("ping", err)
	return err
}
