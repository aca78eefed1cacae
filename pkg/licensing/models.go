package licensing

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// License errors
var (
	ErrInvalidLicense = errors.New("invalid license key")
	ErrExpiredLicense = errors.New("license has expired")
	ErrLookupFailed   = errors.New("license lookup failed")
	ErrUnknownLimit   = errors.New("unknown limit")
	ErrLimitExceeded  = errors.New("limit exceeded")
	ErrInvalidAccount = errors.New("invalid account id")
)

// TenantSeparator splits an account's own tenant from its sub-tenants
// ("acme:sales"). Account ids may not contain it.
const TenantSeparator = ":"

// DemoAccountID is the account attached to keyless requests.
const DemoAccountID = "demo"

// LicenseRecord is a persisted license as seen by the validator.
type LicenseRecord struct {
	KeyHash   string     `json:"key_hash"`
	AccountID string     `json:"account_id"`
	Tier      string     `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ResolvedLicense is the per-request outcome of a successful validation.
type ResolvedLicense struct {
	Tier      Tier           `json:"tier"`
	Features  TierDefinition `json:"features"`
	AccountID string         `json:"account_id"`
	IsDemo    bool           `json:"is_demo"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// ValidateAccountID rejects ids that are empty or that contain the tenant
// separator, whitespace or control characters. An account named "acme:corp"
// would otherwise sit inside the tenant space of account "acme".
func ValidateAccountID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAccount)
	}
	if strings.Contains(id, TenantSeparator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidAccount, id, TenantSeparator)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidAccount, id)
	}
	return nil
}

// IsDenied reports whether err means the presented key grants no access, as
// opposed to the lookup itself failing.
func IsDenied(err error) bool {
	return errors.Is(err, ErrInvalidLicense) || errors.Is(err, ErrExpiredLicense)
}

// LimitExceededError describes a rejected quota check.
type LimitExceededError struct {
	Key     LimitKey
	Limit   int64
	Current int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d > %d", e.Key, e.Current, e.Limit)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// CatalogError reports an invalid tier catalog.
type CatalogError struct {
	Tier   Tier
	Reason string
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("tier catalog: %s: %s", e.Tier, e.Reason)
}
