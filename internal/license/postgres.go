package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/onaplatform/ona-api/pkg/licensing"
)

const pqUniqueViolation = "23505"

// PostgresStore keeps license records in a shared PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open license db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an open handle without touching the schema.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS licenses (
		key_hash   CHAR(64) PRIMARY KEY,
		account_id TEXT NOT NULL,
		tier       TEXT NOT NULL DEFAULT 'basic',
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_licenses_account_id ON licenses(account_id);
	`)
	if err != nil {
		return fmt.Errorf("init license schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Lookup(ctx context.Context, keyHash string) (*licensing.LicenseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key_hash, account_id, tier, expires_at, created_at
		FROM licenses WHERE key_hash = $1`, keyHash)
	return scanPostgresRecord(row)
}

func (s *PostgresStore) Insert(ctx context.Context, rec *licensing.LicenseRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var expires sql.NullTime
	if rec.ExpiresAt != nil {
		expires = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO licenses (key_hash, account_id, tier, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.KeyHash, rec.AccountID, rec.Tier, expires, rec.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*licensing.LicenseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key_hash, account_id, tier, expires_at, created_at
		FROM licenses ORDER BY created_at DESC, key_hash`)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var out []*licensing.LicenseRecord
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Revoke(ctx context.Context, keyHash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE key_hash = $1`, keyHash)
	if err != nil {
		return fmt.Errorf("revoke license: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPostgresRecord(s scanner) (*licensing.LicenseRecord, error) {
	var rec licensing.LicenseRecord
	var expires sql.NullTime
	if err := s.Scan(&rec.KeyHash, &rec.AccountID, &rec.Tier, &expires, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan license: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		rec.ExpiresAt = &t
	}
	return &rec, nil
}
