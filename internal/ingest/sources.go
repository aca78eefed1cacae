package ingest

import (
	"errors"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SourceStatus is the lifecycle state of a registered data source.
type SourceStatus string

const (
	StatusConnected SourceStatus = "connected"
	StatusPending   SourceStatus = "pending"
	StatusFailed    SourceStatus = "failed"
	StatusUploaded  SourceStatus = "uploaded"
)

// ErrSourceNotFound is returned for unknown (or other-tenant) source ids.
var ErrSourceNotFound = errors.New("data source not found")

// Source is a registered upload or external connection.
type Source struct {
	ID         string       `json:"source_id"`
	TenantID   string       `json:"tenant_id"`
	Type       string       `json:"source_type"`
	Endpoint   string       `json:"endpoint,omitempty"`
	Status     SourceStatus `json:"status"`
	Edges      int          `json:"edges"`
	Error      string       `json:"error,omitempty"`
	ArchiveKey string       `json:"archive_key,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Registry tracks data sources per tenant.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Source), now: time.Now}
}

// Register records src and assigns its id and creation time. Credentials in
// the endpoint are redacted before storage.
func (r *Registry) Register(src Source) Source {
	src.ID = ulid.Make().String()
	src.CreatedAt = r.now().UTC()
	src.Endpoint = redact(src.Endpoint)

	r.mu.Lock()
	defer r.mu.Unlock()
	stored := src
	r.sources[src.ID] = &stored
	return stored
}

// List returns the tenant's sources, oldest first.
func (r *Registry) List(tenantID string) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0)
	for _, s := range r.sources {
		if s.TenantID == tenantID {
			out = append(out, *s)
		}
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a source owned by tenantID.
func (r *Registry) Delete(tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok || s.TenantID != tenantID {
		return ErrSourceNotFound
	}
	delete(r.sources, id)
	return nil
}

// DeleteTenant drops every source of tenantID and returns how many.
func (r *Registry) DeleteTenant(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sources {
		if s.TenantID == tenantID {
			delete(r.sources, id)
			n++
		}
	}
	return n
}

func redact(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" {
		return endpoint
	}
	return u.Redacted()
}
