// Package api is the HTTP surface of the ONA platform: license lookup, data
// ingestion and graph analytics, all scoped to the caller's tenant.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/onaplatform/ona-api/internal/archive"
	"github.com/onaplatform/ona-api/internal/auth"
	"github.com/onaplatform/ona-api/internal/config"
	"github.com/onaplatform/ona-api/internal/graphstore"
	"github.com/onaplatform/ona-api/internal/ingest"
	"github.com/onaplatform/ona-api/internal/license"
	"github.com/onaplatform/ona-api/internal/quota"
	"github.com/onaplatform/ona-api/internal/websocket"
	"github.com/rs/cors"
)

// validateAttempts is how many /license/validate calls one address may make
// per minute.
const validateAttempts = 20

// EdgeFetcher downloads a remote edge list for /data/connect.
type EdgeFetcher interface {
	Fetch(ctx context.Context, url string) ([]graphstore.Edge, error)
}

// Deps are the collaborators the router serves from.
type Deps struct {
	Config   *config.Config
	Licenses *license.Service
	Quota    *quota.Enforcer
	Graphs   graphstore.Store
	Sources  *ingest.Registry
	Archive  archive.Archive
	Fetcher  EdgeFetcher
	Hub      *websocket.Hub
	Admin    *auth.AdminGuard
	Version  string
}

// Router handles HTTP routing
type Router struct {
	mux       *http.ServeMux
	deps      Deps
	graph     config.GraphConfig
	ingest    config.IngestConfig
	origins   []string
	limiter   *RateLimiter
	startTime time.Time
}

// NewRouter creates a new router instance. Optional collaborators left nil
// get in-process defaults.
func NewRouter(deps Deps) *Router {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Sources == nil {
		deps.Sources = ingest.NewRegistry()
	}
	if deps.Archive == nil {
		deps.Archive = archive.Nop{}
	}
	if deps.Fetcher == nil {
		deps.Fetcher = ingest.NewHTTPSource(cfg.Ingest.HTTPTimeout,
			ingest.WithMaxResponseBytes(int64(cfg.Ingest.MaxUploadMB)*bytesPerMB),
			ingest.WithPrivateAddresses(cfg.Ingest.AllowPrivateSources))
	}
	if deps.Admin == nil {
		deps.Admin = auth.NewAdminGuard("")
	}
	if deps.Quota == nil {
		deps.Quota = quota.NewEnforcer(quota.NewMemoryCounter(), deps.Licenses.Checker())
	}

	r := &Router{
		mux:       http.NewServeMux(),
		deps:      deps,
		graph:     cfg.Graph,
		ingest:    cfg.Ingest,
		origins:   cfg.Server.AllowedOrigins,
		limiter:   NewRateLimiter(validateAttempts, time.Minute),
		startTime: time.Now(),
	}
	r.setupRoutes()
	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /{$}", r.handleRoot)
	r.mux.HandleFunc("GET /health", r.handleHealth)

	r.mux.HandleFunc("POST /license/validate", r.limiter.Middleware(r.handleValidateLicense))
	r.mux.HandleFunc("GET /license/tiers", r.handleTiers)

	r.mux.HandleFunc("POST /data/upload", r.licensed(r.handleUpload))
	r.mux.HandleFunc("POST /data/connect", r.licensed(r.handleConnect))
	r.mux.HandleFunc("GET /data/sources", r.licensed(r.handleListSources))
	r.mux.HandleFunc("DELETE /data/sources/{source_id}", r.licensed(r.handleDeleteSource))

	r.mux.HandleFunc("POST /graph/query", r.licensed(r.handleQuery))
	r.mux.HandleFunc("POST /graph/metrics", r.licensed(r.handleMetrics))
	r.mux.HandleFunc("GET /graph/communities/{tenant_id}", r.licensed(r.handleCommunities))
	r.mux.HandleFunc("GET /graph/stats/{tenant_id}", r.licensed(r.handleStats))
	r.mux.HandleFunc("GET /graph/paths/{tenant_id}", r.licensed(r.handlePaths))
	r.mux.HandleFunc("GET /graph/cliques/{tenant_id}", r.licensed(r.handleCliques))
	r.mux.HandleFunc("GET /graph/export/{tenant_id}", r.licensed(r.handleExport))
	r.mux.HandleFunc("GET /graph/stream/{tenant_id}", r.licensed(r.handleStream))
	r.mux.HandleFunc("DELETE /graph/{tenant_id}", r.licensed(r.handleDeleteGraph))

	r.mux.HandleFunc("POST /admin/licenses", r.adminOnly(r.handleIssueLicense))
	r.mux.HandleFunc("GET /admin/licenses", r.adminOnly(r.handleListLicenses))
	r.mux.HandleFunc("DELETE /admin/licenses/{key_hash}", r.adminOnly(r.handleRevokeLicense))
}

// Handler returns the full middleware chain: request ids, metrics and panic
// recovery outermost, then CORS, then security headers.
func (r *Router) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   r.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Quota-Limit", "X-Quota-Used", "X-Quota-Reset"},
		AllowCredentials: true,
	})
	return ErrorHandler(c.Handler(securityHeaders(r.mux)))
}

// ServeHTTP implements http.Handler without the middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close stops background work owned by the router.
func (r *Router) Close() {
	r.limiter.Stop()
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, req, http.StatusOK, map[string]string{
		"message": "ONA Platform API v" + r.deps.Version,
		"status":  "operational",
	})
}
