package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/metrics"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/rs/zerolog/log"
)

const defaultLookupTimeout = 5 * time.Second

// Service resolves API keys to licenses and issues new keys.
type Service struct {
	store     Store
	validator *licensing.Validator
	checker   *licensing.Checker
	timeout   time.Duration
}

// NewService wires a store to the validator and checker. A zero timeout uses
// five seconds per store lookup.
func NewService(store Store, validator *licensing.Validator, checker *licensing.Checker, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Service{store: store, validator: validator, checker: checker, timeout: timeout}
}

// Catalog returns the tier catalog in use.
func (s *Service) Catalog() *licensing.Catalog { return s.validator.Catalog() }

// Checker returns the feature/limit checker.
func (s *Service) Checker() *licensing.Checker { return s.checker }

// Store returns the backing store.
func (s *Service) Store() Store { return s.store }

// Resolve validates key. Denied keys come back as auth errors and store
// failures as dependency errors, so callers can tell them apart.
func (s *Service) Resolve(ctx context.Context, key string) (*licensing.ResolvedLicense, error) {
	key = strings.TrimSpace(key)
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	lic, err := s.validator.Validate(key, func(fp string) (*licensing.LicenseRecord, error) {
		return s.store.Lookup(lookupCtx, fp)
	})
	switch {
	case err == nil:
		if lic.IsDemo {
			metrics.RecordLicenseValidation("demo")
		} else {
			metrics.RecordLicenseValidation("valid")
		}
		return lic, nil
	case errors.Is(err, licensing.ErrExpiredLicense):
		metrics.RecordLicenseValidation("expired")
		return nil, apperrors.Unauthorized("validate_license", err)
	case errors.Is(err, licensing.ErrInvalidLicense):
		metrics.RecordLicenseValidation("invalid")
		return nil, apperrors.Unauthorized("validate_license", err)
	default:
		metrics.RecordLicenseValidation("error")
		log.Error().Err(err).Str("key", licensing.MaskKey(key)).Msg("License lookup failed")
		return nil, apperrors.Dependency("validate_license", "", err)
	}
}

// IssueRequest describes a license to create.
type IssueRequest struct {
	AccountID string     `json:"account_id"`
	Tier      string     `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Issued is returned once from Issue; the plain key is never stored.
type Issued struct {
	Key    string                   `json:"key"`
	Record *licensing.LicenseRecord `json:"record"`
}

// Issue generates a key for req and stores its fingerprint.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == licensing.DemoAccountID {
		return nil, apperrors.InvalidInput("issue_license", "", fmt.Errorf("account_id may not be %q", licensing.DemoAccountID))
	}
	if err := licensing.ValidateAccountID(req.AccountID); err != nil {
		return nil, apperrors.InvalidInput("issue_license", "", err)
	}
	tier, ok := licensing.ParseTier(req.Tier)
	if !ok || tier == licensing.TierDemo {
		return nil, apperrors.InvalidInput("issue_license", req.AccountID, fmt.Errorf("unknown tier %q", req.Tier))
	}

	key, err := licensing.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	rec := &licensing.LicenseRecord{
		KeyHash:   licensing.HashKey(key),
		AccountID: req.AccountID,
		Tier:      string(tier),
		ExpiresAt: req.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	insertCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Insert(insertCtx, rec); err != nil {
		return nil, apperrors.Dependency("issue_license", req.AccountID, err)
	}

	log.Info().
		Str("account_id", rec.AccountID).
		Str("tier", rec.Tier).
		Str("key", licensing.MaskKey(key)).
		Msg("Issued license")
	return &Issued{Key: key, Record: rec}, nil
}
