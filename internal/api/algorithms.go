package api

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/graphstore"
	"github.com/onaplatform/ona-api/internal/metrics"
	"github.com/onaplatform/ona-api/pkg/graphmetrics"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"golang.org/x/sync/semaphore"
)

// algorithmSlots bounds how many algorithm runs may be in flight, counting
// runs whose caller already gave up. A slot is released only when fn returns.
var algorithmSlots = semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)) * 2)

// runAlgorithm runs fn under the algorithm timeout and records its
// duration. Algorithms that ignore ctx keep running after the deadline and
// hold their slot until they finish; the caller gets the deadline error
// straight away, and new runs wait for a free slot within their own timeout.
func runAlgorithm[T any](ctx context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var zero T
	started := time.Now()
	if err := algorithmSlots.Acquire(ctx, 1); err != nil {
		metrics.ObserveAlgorithm(name, started, err)
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer algorithmSlots.Release(1)
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		metrics.ObserveAlgorithm(name, started, res.err)
		return res.value, res.err
	case <-ctx.Done():
		metrics.ObserveAlgorithm(name, started, ctx.Err())
		return zero, ctx.Err()
	}
}

// algorithmError classifies a failure from pkg/graphmetrics.
func algorithmError(op, tenantID string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.New(apperrors.ErrorTypeTimeout, op, tenantID, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, graphmetrics.ErrNotConverged):
		return apperrors.Algorithm(op, tenantID, err)
	case errors.Is(err, graphmetrics.ErrNodeNotFound):
		return apperrors.NotFound(op, tenantID, err)
	case errors.Is(err, graphmetrics.ErrBudgetExceeded), errors.Is(err, graphmetrics.ErrUnknownKind):
		return apperrors.InvalidInput(op, tenantID, err)
	default:
		return fmt.Errorf("%s for tenant %s: %w", op, tenantID, err)
	}
}

// loadGraph fetches the tenant's edges under the query timeout and builds
// the in-memory graph the algorithms run on. A graph with more edges than
// analysisCeiling allows is refused rather than analysed in part.
func (r *Router) loadGraph(ctx context.Context, lic *licensing.ResolvedLicense, op, tenantID string, filter graphstore.Filter) (*graphmetrics.Graph, error) {
	ceiling := r.analysisCeiling(lic)
	filter.Limit = ceiling + 1
	ctx, cancel := context.WithTimeout(ctx, r.graph.QueryTimeout)
	defer cancel()

	edges, err := r.deps.Graphs.FetchEdges(ctx, tenantID, filter)
	if err != nil {
		return nil, apperrors.Dependency(op, tenantID, err)
	}
	if len(edges) > ceiling {
		current := int64(len(edges))
		if _, stored, err := r.deps.Graphs.Count(ctx, tenantID); err == nil {
			current = int64(stored)
		}
		return nil, apperrors.Limit(op, tenantID, &licensing.LimitExceededError{
			Key:     licensing.LimitMaxEdges,
			Limit:   int64(ceiling),
			Current: current,
		})
	}
	g, err := graphmetrics.FromEdges(graphstore.ToMetricEdges(edges))
	if err != nil {
		return nil, fmt.Errorf("%s: build graph for tenant %s: %w", op, tenantID, err)
	}
	return g, nil
}

// analysisCeiling is the most edges one request loads: the license's
// max_edges, or graph.fetch_limit when that is larger or the license is
// unlimited.
func (r *Router) analysisCeiling(lic *licensing.ResolvedLicense) int {
	ceiling := r.graph.FetchLimit
	if ceiling <= 0 {
		ceiling = graphstore.DefaultFetchLimit
	}
	if lic != nil {
		if maxEdges, ok := lic.Features.MaxEdges.Value(); ok && maxEdges > int64(ceiling) {
			ceiling = int(maxEdges)
		}
	}
	return ceiling
}

func (r *Router) centralityOptions() graphmetrics.Options {
	return graphmetrics.Options{MaxIter: r.graph.EigenMaxIter}
}

func (r *Router) communityOptions(resolution float64) graphmetrics.CommunityOptions {
	return graphmetrics.CommunityOptions{Seed: r.graph.CommunitySeed, Resolution: resolution}
}

func (r *Router) cliqueOptions() graphmetrics.CliqueOptions {
	return graphmetrics.CliqueOptions{MaxNodes: r.graph.CliqueMaxNodes, MaxCliques: r.graph.CliqueMaxResults}
}
