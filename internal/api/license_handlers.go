package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/license"
	"github.com/onaplatform/ona-api/internal/utils"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/rs/zerolog/log"
)

// LicenseInfo is the response of /license/validate.
type LicenseInfo struct {
	Tier             licensing.Tier  `json:"tier"`
	Features         []string        `json:"features"`
	MaxNodes         licensing.Limit `json:"max_nodes"`
	MaxEdges         licensing.Limit `json:"max_edges"`
	APICallsPerMonth licensing.Limit `json:"api_calls_per_month"`
	ExpiresAt        *time.Time      `json:"expires_at"`
	AccountID        string          `json:"account_id"`
	IsDemo           bool            `json:"is_demo"`
}

func licenseInfo(lic *licensing.ResolvedLicense) LicenseInfo {
	return LicenseInfo{
		Tier:             lic.Tier,
		Features:         lic.Features.EnabledFeatures(),
		MaxNodes:         lic.Features.MaxNodes,
		MaxEdges:         lic.Features.MaxEdges,
		APICallsPerMonth: lic.Features.APICallsPerMonth,
		ExpiresAt:        lic.ExpiresAt,
		AccountID:        lic.AccountID,
		IsDemo:           lic.IsDemo,
	}
}

type validateRequest struct {
	APIKey string `json:"api_key"`
}

// handleValidateLicense resolves the key in the body. An empty key yields
// the demo license; unknown and expired keys are 401.
func (r *Router) handleValidateLicense(w http.ResponseWriter, req *http.Request) {
	var body validateRequest
	if err := utils.DecodeJSONBody(w, req, &body); err != nil {
		writeError(w, req, apperrors.InvalidInput("validate_license", "", err))
		return
	}
	lic, err := r.deps.Licenses.Resolve(req.Context(), body.APIKey)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, req, http.StatusOK, licenseInfo(lic))
}

// TierInfo is one entry of /license/tiers.
type TierInfo struct {
	DisplayName      string          `json:"display_name"`
	Price            interface{}     `json:"price"` // USD per month, or "custom"
	MaxNodes         licensing.Limit `json:"max_nodes"`
	MaxEdges         licensing.Limit `json:"max_edges"`
	APICallsPerMonth licensing.Limit `json:"api_calls_per_month"`
	MaxUsers         licensing.Limit `json:"max_users"`
	Features         []string        `json:"features"`
	DataInput        bool            `json:"data_input"`
}

func (r *Router) handleTiers(w http.ResponseWriter, req *http.Request) {
	tiers := r.deps.Licenses.Catalog().Tiers()
	out := make(map[string]TierInfo, len(tiers))
	for _, d := range tiers {
		var price interface{} = "custom"
		if d.MonthlyPriceUSD != nil {
			price = *d.MonthlyPriceUSD
		}
		out[string(d.Tier)] = TierInfo{
			DisplayName:      d.DisplayName,
			Price:            price,
			MaxNodes:         d.MaxNodes,
			MaxEdges:         d.MaxEdges,
			APICallsPerMonth: d.APICallsPerMonth,
			MaxUsers:         d.MaxUsers,
			Features:         d.EnabledFeatures(),
			DataInput:        d.DataInput,
		}
	}
	writeJSON(w, req, http.StatusOK, out)
}

func (r *Router) handleIssueLicense(w http.ResponseWriter, req *http.Request) {
	var body license.IssueRequest
	if err := utils.DecodeJSONBody(w, req, &body); err != nil {
		writeError(w, req, apperrors.InvalidInput("issue_license", "", err))
		return
	}
	issued, err := r.deps.Licenses.Issue(req.Context(), body)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, req, http.StatusCreated, issued)
}

func (r *Router) handleListLicenses(w http.ResponseWriter, req *http.Request) {
	records, err := r.deps.Licenses.Store().List(req.Context())
	if err != nil {
		writeError(w, req, apperrors.Dependency("list_licenses", "", err))
		return
	}
	if records == nil {
		records = []*licensing.LicenseRecord{}
	}
	writeJSON(w, req, http.StatusOK, map[string]interface{}{"licenses": records})
}

func (r *Router) handleRevokeLicense(w http.ResponseWriter, req *http.Request) {
	keyHash := strings.ToLower(strings.TrimSpace(req.PathValue("key_hash")))
	err := r.deps.Licenses.Store().Revoke(req.Context(), keyHash)
	switch {
	case errors.Is(err, license.ErrNotFound):
		writeError(w, req, apperrors.NotFound("revoke_license", "", err))
		return
	case err != nil:
		writeError(w, req, apperrors.Dependency("revoke_license", "", err))
		return
	}
	log.Info().Str("key_hash", keyHash).Msg("Revoked license")
	writeJSON(w, req, http.StatusOK, map[string]string{"key_hash": keyHash, "status": "revoked"})
}
