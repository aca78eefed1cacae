package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/graphstore"
	"github.com/onaplatform/ona-api/internal/ingest"
	"github.com/onaplatform/ona-api/internal/metrics"
	"github.com/onaplatform/ona-api/internal/utils"
	"github.com/onaplatform/ona-api/internal/websocket"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/rs/zerolog/log"
)

// Source types accepted by /data/connect.
const (
	SourceCSV   = "csv"
	SourceJSON  = "json"
	SourceNeo4j = "neo4j"
	SourceSQL   = "sql"
	SourceKafka = "kafka"
	SourceHTTP  = "http"
)

var connectTypes = map[string]bool{
	SourceCSV: true, SourceJSON: true, SourceNeo4j: true,
	SourceSQL: true, SourceKafka: true, SourceHTTP: true,
}

const bytesPerMB = 1 << 20

// UploadResponse describes an ingested file.
type UploadResponse struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	TenantID    string `json:"tenant_id"`
	Status      string `json:"status"`
	SourceID    string `json:"source_id"`
	Format      string `json:"format"`
	Edges       int    `json:"edges"`
	ArchiveKey  string `json:"archive_key,omitempty"`
	graphstore.WriteSummary
}

// handleUpload ingests a multipart "file" into the tenant's graph.
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) {
	const op = "upload"
	lic := LicenseFromContext(req.Context())

	maxBytes := int64(r.ingest.MaxUploadMB) * bytesPerMB
	if maxBytes <= 0 {
		maxBytes = 32 * bytesPerMB
	}
	req.Body = http.MaxBytesReader(w, req.Body, maxBytes)
	if err := req.ParseMultipartForm(maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = fmt.Errorf("upload exceeds %d MB", maxBytes/bytesPerMB)
		}
		writeError(w, req, apperrors.InvalidInput(op, "", err))
		return
	}
	defer func() {
		if req.MultipartForm != nil {
			_ = req.MultipartForm.RemoveAll()
		}
	}()

	tenantID := req.FormValue("tenant_id")
	tenantID, err := authorizeTenant(lic, op, tenantID)
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.requireFeature(lic, licensing.FeatureDataInput, op, tenantID); err != nil {
		writeError(w, req, err)
		return
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, errors.New("multipart field \"file\" is required")))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	format, err := ingest.FormatFor(contentType, header.Filename)
	if err != nil {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, err))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, fmt.Errorf("read upload: %w", err)))
		return
	}
	edges, err := ingest.Parse(format, bytes.NewReader(data))
	if err != nil {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, err))
		return
	}

	summary, err := r.ingestEdges(req.Context(), lic, op, tenantID, edges)
	if err != nil {
		writeError(w, req, err)
		return
	}

	archiveKey, err := r.deps.Archive.Put(req.Context(), tenantID, header.Filename, contentType, data)
	if err != nil {
		// The graph already holds the edges; a missing archive copy only
		// costs replayability.
		log.Warn().Err(err).Str("tenant", tenantID).Str("file", header.Filename).Msg("Failed to archive upload")
	}

	src := r.deps.Sources.Register(ingest.Source{
		TenantID:   tenantID,
		Type:       string(format),
		Endpoint:   header.Filename,
		Status:     ingest.StatusUploaded,
		Edges:      len(edges),
		ArchiveKey: archiveKey,
	})
	metrics.RecordIngest(string(format), len(edges))
	r.publish(tenantID, websocket.EventGraphUpdated, map[string]interface{}{
		"source_id":             src.ID,
		"nodes_created":         summary.NodesCreated,
		"relationships_created": summary.RelationshipsCreated,
	})

	log.Info().
		Str("tenant", tenantID).
		Str("file", header.Filename).
		Str("format", string(format)).
		Int("edges", len(edges)).
		Msg("Ingested upload")

	writeJSON(w, req, http.StatusOK, UploadResponse{
		Filename:     header.Filename,
		ContentType:  contentType,
		TenantID:     tenantID,
		Status:       string(ingest.StatusUploaded),
		SourceID:     src.ID,
		Format:       string(format),
		Edges:        len(edges),
		ArchiveKey:   archiveKey,
		WriteSummary: summary,
	})
}

// ingestEdges checks that the tenant's graph stays within the license once
// edges are merged in, then writes them.
func (r *Router) ingestEdges(ctx context.Context, lic *licensing.ResolvedLicense, op, tenantID string, edges []graphstore.Edge) (graphstore.WriteSummary, error) {
	if len(edges) == 0 {
		return graphstore.WriteSummary{}, apperrors.InvalidInput(op, tenantID, errors.New("no edges found in source"))
	}

	ctx, cancel := context.WithTimeout(ctx, r.graph.QueryTimeout)
	defer cancel()

	if !lic.Features.MaxNodes.IsUnlimited() || !lic.Features.MaxEdges.IsUnlimited() {
		existing, err := r.storedEdges(ctx, tenantID)
		if err != nil {
			return graphstore.WriteSummary{}, apperrors.Dependency(op, tenantID, err)
		}
		nodes, rels := mergedSize(existing, edges)
		if err := r.checkGraphLimits(lic, op, tenantID, nodes, rels); err != nil {
			return graphstore.WriteSummary{}, err
		}
	}

	summary, err := r.deps.Graphs.WriteEdges(ctx, tenantID, edges)
	if err != nil {
		return graphstore.WriteSummary{}, apperrors.Dependency(op, tenantID, err)
	}
	return summary, nil
}

// storedEdges returns every edge the tenant has. The fetch is sized from
// Count so the store's default limit never truncates it.
func (r *Router) storedEdges(ctx context.Context, tenantID string) ([]graphstore.Edge, error) {
	_, stored, err := r.deps.Graphs.Count(ctx, tenantID)
	if err != nil || stored == 0 {
		return nil, err
	}
	return r.deps.Graphs.FetchEdges(ctx, tenantID, graphstore.Filter{Limit: stored})
}

// mergedSize counts distinct nodes and relationships after adding incoming
// to existing, the way graphmetrics.FromEdges will see them: undirected,
// without self-loops.
func mergedSize(existing, incoming []graphstore.Edge) (nodes, edges int) {
	type key struct{ a, b string }
	nodeSet := make(map[string]struct{})
	edgeSet := make(map[key]struct{})
	for _, list := range [][]graphstore.Edge{existing, incoming} {
		for _, e := range list {
			nodeSet[e.Source] = struct{}{}
			nodeSet[e.Target] = struct{}{}
			if e.Source == e.Target {
				continue
			}
			k := key{e.Source, e.Target}
			if k.b < k.a {
				k.a, k.b = k.b, k.a
			}
			edgeSet[k] = struct{}{}
		}
	}
	return len(nodeSet), len(edgeSet)
}

type connectRequest struct {
	SourceType       string `json:"source_type"`
	ConnectionString string `json:"connection_string"`
	TenantID         string `json:"tenant_id"`
}

// ConnectResponse describes a registered source.
type ConnectResponse struct {
	SourceType string `json:"source_type"`
	TenantID   string `json:"tenant_id"`
	Status     string `json:"status"`
	SourceID   string `json:"source_id"`
	Edges      int    `json:"edges,omitempty"`
}

// handleConnect registers an external source. HTTP sources are fetched
// immediately; neo4j checks the configured graph store; the remaining
// types are recorded as pending.
func (r *Router) handleConnect(w http.ResponseWriter, req *http.Request) {
	const op = "connect_source"
	lic := LicenseFromContext(req.Context())

	var body connectRequest
	if err := utils.DecodeJSONBody(w, req, &body); err != nil {
		writeError(w, req, apperrors.InvalidInput(op, "", err))
		return
	}
	tenantID, err := authorizeTenant(lic, op, body.TenantID)
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.requireFeature(lic, licensing.FeatureDataInput, op, tenantID); err != nil {
		writeError(w, req, err)
		return
	}
	sourceType := strings.ToLower(strings.TrimSpace(body.SourceType))
	if !connectTypes[sourceType] {
		writeError(w, req, apperrors.InvalidInput(op, tenantID, fmt.Errorf("unsupported source_type %q", body.SourceType)))
		return
	}

	src := ingest.Source{TenantID: tenantID, Type: sourceType, Endpoint: body.ConnectionString, Status: ingest.StatusPending}
	var connectErr error
	switch sourceType {
	case SourceHTTP:
		connectErr = r.connectHTTP(req.Context(), lic, tenantID, &src)
	case SourceNeo4j:
		ctx, cancel := context.WithTimeout(req.Context(), r.graph.QueryTimeout)
		if err := r.deps.Graphs.Ping(ctx); err != nil {
			connectErr = apperrors.Dependency(op, tenantID, err)
		} else {
			src.Status = ingest.StatusConnected
		}
		cancel()
	}

	// Rejected requests are not sources; failed connections are kept so
	// the tenant can see why.
	switch apperrors.TypeOf(connectErr) {
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeLimit:
		writeError(w, req, connectErr)
		return
	}
	if connectErr != nil {
		src.Status = ingest.StatusFailed
		src.Error = clientMessage(connectErr)
	}
	stored := r.deps.Sources.Register(src)
	r.publish(tenantID, websocket.EventSourceAdded, stored)
	if connectErr != nil {
		writeError(w, req, connectErr)
		return
	}

	writeJSON(w, req, http.StatusOK, ConnectResponse{
		SourceType: sourceType,
		TenantID:   tenantID,
		Status:     string(stored.Status),
		SourceID:   stored.ID,
		Edges:      stored.Edges,
	})
}

func (r *Router) connectHTTP(ctx context.Context, lic *licensing.ResolvedLicense, tenantID string, src *ingest.Source) error {
	const op = "connect_source"
	if strings.TrimSpace(src.Endpoint) == "" {
		return apperrors.InvalidInput(op, tenantID, errors.New("connection_string is required for http sources"))
	}
	fetchCtx, cancel := context.WithTimeout(ctx, r.ingest.HTTPTimeout)
	defer cancel()
	edges, err := r.deps.Fetcher.Fetch(fetchCtx, src.Endpoint)
	if err != nil {
		return apperrors.Dependency(op, tenantID, err)
	}
	summary, err := r.ingestEdges(ctx, lic, op, tenantID, edges)
	if err != nil {
		return err
	}
	src.Status = ingest.StatusConnected
	src.Edges = len(edges)
	metrics.RecordIngest(SourceHTTP, len(edges))
	r.publish(tenantID, websocket.EventGraphUpdated, map[string]interface{}{
		"nodes_created":         summary.NodesCreated,
		"relationships_created": summary.RelationshipsCreated,
	})
	return nil
}

func (r *Router) handleListSources(w http.ResponseWriter, req *http.Request) {
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, "list_sources", req.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, req, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"sources":   r.deps.Sources.List(tenantID),
	})
}

func (r *Router) handleDeleteSource(w http.ResponseWriter, req *http.Request) {
	const op = "delete_source"
	lic := LicenseFromContext(req.Context())
	tenantID, err := authorizeTenant(lic, op, req.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := r.requireFeature(lic, licensing.FeatureDataInput, op, tenantID); err != nil {
		writeError(w, req, err)
		return
	}
	sourceID := req.PathValue("source_id")
	if err := r.deps.Sources.Delete(tenantID, sourceID); err != nil {
		writeError(w, req, apperrors.NotFound(op, tenantID, err))
		return
	}
	r.publish(tenantID, websocket.EventSourceRemoved, map[string]string{"source_id": sourceID})
	writeJSON(w, req, http.StatusOK, map[string]string{"source_id": sourceID, "status": "disconnected"})
}

func (r *Router) publish(tenantID, event string, data interface{}) {
	if r.deps.Hub != nil {
		r.deps.Hub.Publish(tenantID, event, data)
	}
}
