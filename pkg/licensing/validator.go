package licensing

import (
	"fmt"
	"time"
)

// LookupFunc fetches a license record by key fingerprint. It returns
// (nil, nil) when no record exists; a non-nil error means the lookup itself
// failed.
type LookupFunc func(fingerprint string) (*LicenseRecord, error)

// Validator resolves presented keys to licenses.
type Validator struct {
	catalog *Catalog
	now     func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a validator over catalog.
func NewValidator(catalog *Catalog, opts ...ValidatorOption) *Validator {
	v := &Validator{catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Catalog returns the catalog the validator resolves tiers against.
func (v *Validator) Catalog() *Catalog { return v.catalog }

// Demo returns the license granted to requests without a key.
func (v *Validator) Demo() *ResolvedLicense {
	return &ResolvedLicense{
		Tier:      TierDemo,
		Features:  v.catalog.Definition(TierDemo),
		AccountID: DemoAccountID,
		IsDemo:    true,
	}
}

// Validate resolves key to a license.
//
// An empty key yields the demo license without calling lookup. A key with no
// record returns ErrInvalidLicense and an expired record returns
// ErrExpiredLicense; both satisfy IsDenied. Lookup failures are wrapped in
// ErrLookupFailed.
func (v *Validator) Validate(key string, lookup LookupFunc) (*ResolvedLicense, error) {
	if key == "" {
		return v.Demo(), nil
	}

	record, err := lookup(HashKey(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	if record == nil {
		return nil, ErrInvalidLicense
	}

	var expiresAt *time.Time
	if record.ExpiresAt != nil {
		utc := record.ExpiresAt.UTC()
		if utc.Before(v.now().UTC()) {
			return nil, ErrExpiredLicense
		}
		expiresAt = &utc
	}

	tier, _ := ParseTier(record.Tier)
	return &ResolvedLicense{
		Tier:      tier,
		Features:  v.catalog.Definition(tier),
		AccountID: record.AccountID,
		IsDemo:    false,
		ExpiresAt: expiresAt,
	}, nil
}
