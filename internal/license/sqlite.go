package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onaplatform/ona-api/pkg/licensing"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps license records in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the license database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create license dir: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open license db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS licenses (
		key_hash   TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tier       TEXT NOT NULL DEFAULT 'basic',
		expires_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_licenses_account_id ON licenses(account_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init license schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the record for keyHash, or nil when none exists.
func (s *SQLiteStore) Lookup(ctx context.Context, keyHash string) (*licensing.LicenseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key_hash, account_id, tier, expires_at, created_at
		FROM licenses WHERE key_hash = ?`, keyHash)
	return scanSQLiteRecord(row)
}

// Insert stores a new record.
func (s *SQLiteStore) Insert(ctx context.Context, rec *licensing.LicenseRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var expires sql.NullInt64
	if rec.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: rec.ExpiresAt.UTC().Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO licenses (key_hash, account_id, tier, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.KeyHash, rec.AccountID, rec.Tier, expires, rec.CreatedAt.UTC().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// List returns every record, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*licensing.LicenseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key_hash, account_id, tier, expires_at, created_at
		FROM licenses ORDER BY created_at DESC, key_hash`)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var out []*licensing.LicenseRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Revoke deletes the record for keyHash.
func (s *SQLiteStore) Revoke(ctx context.Context, keyHash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE key_hash = ?`, keyHash)
	if err != nil {
		return fmt.Errorf("revoke license: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(s scanner) (*licensing.LicenseRecord, error) {
	var rec licensing.LicenseRecord
	var expires sql.NullInt64
	var created int64
	if err := s.Scan(&rec.KeyHash, &rec.AccountID, &rec.Tier, &expires, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan license: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	if expires.Valid {
		t := time.Unix(expires.Int64, 0).UTC()
		rec.ExpiresAt = &t
	}
	return &rec, nil
}
