package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/onaplatform/ona-api/internal/auth"
	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/metrics"
	"github.com/onaplatform/ona-api/internal/utils"
	"github.com/onaplatform/ona-api/pkg/licensing"
)

const (
	// APIKeyHeader carries the caller's license key.
	APIKeyHeader = "X-API-Key"
	// apiKeyQuery is accepted where browsers cannot set headers (websockets).
	apiKeyQuery = "api_key"
)

type licenseCtxKey struct{}

func withLicense(ctx context.Context, lic *licensing.ResolvedLicense) context.Context {
	return context.WithValue(ctx, licenseCtxKey{}, lic)
}

// LicenseFromContext returns the license resolved by the licensing
// middleware, or nil outside a licensed route.
func LicenseFromContext(ctx context.Context) *licensing.ResolvedLicense {
	lic, _ := ctx.Value(licenseCtxKey{}).(*licensing.ResolvedLicense)
	return lic
}

func apiKey(req *http.Request) string {
	if key := strings.TrimSpace(req.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(req.URL.Query().Get(apiKeyQuery))
}

// licensed resolves the caller's license (demo when no key is sent),
// charges one call against the monthly quota and stores the license on the
// request context.
func (r *Router) licensed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		lic, err := r.deps.Licenses.Resolve(req.Context(), apiKey(req))
		if err != nil {
			writeError(w, req, err)
			return
		}

		usage, err := r.deps.Quota.Allow(req.Context(), lic, quotaSubject(lic, req))
		if limit, ok := usage.Limit.Value(); ok {
			w.Header().Set("X-Quota-Limit", strconv.FormatInt(limit, 10))
			w.Header().Set("X-Quota-Used", strconv.FormatInt(usage.Used, 10))
			w.Header().Set("X-Quota-Reset", usage.Reset.UTC().Format("2006-01-02T15:04:05Z"))
		}
		if err != nil {
			metrics.RecordDenial(string(lic.Tier), string(licensing.LimitAPICallsPerMonth))
			writeError(w, req, err)
			return
		}

		next(w, req.WithContext(withLicense(req.Context(), lic)))
	}
}

// quotaSubject counts paid calls per account. Demo callers share no
// account, so they are counted per client address.
func quotaSubject(lic *licensing.ResolvedLicense, req *http.Request) string {
	if lic.IsDemo {
		return licensing.DemoAccountID + ":" + utils.ClientIP(req)
	}
	return lic.AccountID
}

// defaultTenant is the tenant used when a request names none.
func defaultTenant(lic *licensing.ResolvedLicense) string {
	if lic.IsDemo {
		return licensing.DemoAccountID
	}
	return lic.AccountID
}

// authorizeTenant resolves the tenant a request targets and checks that the
// license may use it. An account owns the tenant named after it and any
// tenant prefixed "<account>:"; the demo license only sees the demo tenant.
func authorizeTenant(lic *licensing.ResolvedLicense, op, tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		tenantID = defaultTenant(lic)
	}
	owner := defaultTenant(lic)
	if tenantID == owner || (!lic.IsDemo && strings.HasPrefix(tenantID, owner+licensing.TenantSeparator)) {
		return tenantID, nil
	}
	metrics.RecordDenial(string(lic.Tier), "tenant")
	return "", apperrors.Forbidden(op, tenantID, fmt.Errorf("license does not grant access to tenant %q", tenantID))
}

// requireFeature fails with a forbidden error when lic lacks feature.
func (r *Router) requireFeature(lic *licensing.ResolvedLicense, feature licensing.Feature, op, tenantID string) error {
	if r.deps.Licenses.Checker().HasFeature(lic, string(feature)) {
		return nil
	}
	metrics.RecordDenial(string(lic.Tier), string(feature))
	return apperrors.Forbidden(op, tenantID, fmt.Errorf("the %s tier does not include %s", lic.Tier, feature))
}

// checkGraphLimits rejects graphs larger than the license allows.
func (r *Router) checkGraphLimits(lic *licensing.ResolvedLicense, op, tenantID string, nodes, edges int) error {
	checker := r.deps.Licenses.Checker()
	for _, c := range []struct {
		key   licensing.LimitKey
		count int
	}{
		{licensing.LimitMaxNodes, nodes},
		{licensing.LimitMaxEdges, edges},
	} {
		if err := checker.CheckLimit(lic, string(c.key), int64(c.count)); err != nil {
			metrics.RecordDenial(string(lic.Tier), string(c.key))
			var exceeded *licensing.LimitExceededError
			if errors.As(err, &exceeded) {
				return apperrors.Limit(op, tenantID, err)
			}
			return err
		}
	}
	return nil
}

// adminOnly requires the operator bearer token.
func (r *Router) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		switch err := r.deps.Admin.Check(req.Header.Get("Authorization")); {
		case errors.Is(err, auth.ErrAdminDisabled):
			writeError(w, req, apperrors.NotFound("admin", "", err))
			return
		case err != nil:
			writeError(w, req, apperrors.Unauthorized("admin", err))
			return
		}
		next(w, req.WithContext(auth.WithAdmin(req.Context())))
	}
}
