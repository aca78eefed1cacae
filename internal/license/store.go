// Package license persists license records and resolves API keys against
// them for the HTTP layer.
package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/onaplatform/ona-api/internal/config"
	"github.com/onaplatform/ona-api/pkg/licensing"
)

var (
	// ErrNotFound is returned by Revoke when no record has the fingerprint.
	ErrNotFound = errors.New("license not found")
	// ErrDuplicateKey is returned by Insert when the fingerprint exists.
	ErrDuplicateKey = errors.New("license key already registered")
)

// Store persists license records keyed by key fingerprint. Lookup returns
// (nil, nil) when no record exists.
type Store interface {
	Lookup(ctx context.Context, keyHash string) (*licensing.LicenseRecord, error)
	Insert(ctx context.Context, rec *licensing.LicenseRecord) error
	List(ctx context.Context) ([]*licensing.LicenseRecord, error)
	Revoke(ctx context.Context, keyHash string) error
	Ping(ctx context.Context) error
	Close() error
}

// OpenStore opens the store selected by cfg.Store.
func OpenStore(cfg config.LicenseConfig) (Store, error) {
	switch cfg.Store {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown license store %q", cfg.Store)
	}
}

func validateRecord(rec *licensing.LicenseRecord) error {
	if rec == nil {
		return fmt.Errorf("license record is nil")
	}
	if len(rec.KeyHash) != 64 {
		return fmt.Errorf("key hash must be 64 hex characters")
	}
	if err := licensing.ValidateAccountID(rec.AccountID); err != nil {
		return err
	}
	return nil
}
