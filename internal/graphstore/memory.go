package graphstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

type edgeKey struct{ source, target string }

type tenantGraph struct {
	nodes map[string]struct{}
	edges map[edgeKey]Edge
}

// MemoryStore keeps tenant graphs in process memory. It mirrors the
// counters a Neo4j MERGE would report.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*tenantGraph
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*tenantGraph), now: time.Now}
}

func (m *MemoryStore) FetchEdges(ctx context.Context, tenantID string, f Filter) ([]Edge, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	tg, ok := m.tenants[tenantID]
	if !ok {
		return []Edge{}, nil
	}

	out := make([]Edge, 0, len(tg.edges))
	for _, e := range tg.edges {
		if e.Weight >= f.MinWeight {
			out = append(out, cloneEdge(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	if limit := f.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) WriteEdges(ctx context.Context, tenantID string, edges []Edge) (WriteSummary, error) {
	var sum WriteSummary
	if err := checkTenant(tenantID); err != nil {
		return sum, err
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tg, ok := m.tenants[tenantID]
	if !ok {
		tg = &tenantGraph{nodes: make(map[string]struct{}), edges: make(map[edgeKey]Edge)}
		m.tenants[tenantID] = tg
	}

	updated := m.now().UTC()
	for _, e := range edges {
		for _, id := range []string{e.Source, e.Target} {
			if _, seen := tg.nodes[id]; !seen {
				tg.nodes[id] = struct{}{}
				sum.NodesCreated++
				sum.PropertiesSet += 2 // id, tenant_id
			}
		}
		key := edgeKey{e.Source, e.Target}
		if _, seen := tg.edges[key]; !seen {
			sum.RelationshipsCreated++
			sum.PropertiesSet++ // tenant_id
		}
		stored := cloneEdge(e)
		if stored.Properties == nil {
			stored.Properties = make(map[string]any, 1)
		}
		stored.Properties["updated_at"] = updated
		tg.edges[key] = stored
		sum.PropertiesSet += 2 // weight, updated_at
	}
	return sum, nil
}

func (m *MemoryStore) Count(ctx context.Context, tenantID string) (int, int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tg, ok := m.tenants[tenantID]
	if !ok {
		return 0, 0, nil
	}
	return len(tg.nodes), len(tg.edges), nil
}

func (m *MemoryStore) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tg, ok := m.tenants[tenantID]
	if !ok {
		return 0, nil
	}
	delete(m.tenants, tenantID)
	return len(tg.nodes), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close(context.Context) error { return nil }

func cloneEdge(e Edge) Edge {
	if e.Properties != nil {
		props := make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			props[k] = v
		}
		e.Properties = props
	}
	return e
}
