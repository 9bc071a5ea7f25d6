// Package sqlite keeps the credential cache in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nulzo/gatewayctl/internal/core/ports"
)

//go:embed migrations/*.sql
var fs embed.FS

type row struct {
	Key       string        `db:"key"`
	Value     []byte        `db:"value"`
	ExpiresAt sql.NullInt64 `db:"expires_at"`
}

type Store struct {
	db *sqlx.DB
}

var _ ports.CredentialStore = (*Store)(nil)

// New opens (creating with 0600 permissions) the database at path and
// applies pending migrations.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create cache database: %w", err)
	}
	_ = f.Close()

	db, err := sqlx.Connect("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}

	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT key, value, expires_at FROM credentials WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrCacheMiss
	}
	if err != nil {
		return err
	}

	if r.ExpiresAt.Valid && time.Now().UnixMilli() > r.ExpiresAt.Int64 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key)
		return ports.ErrCacheMiss
	}
	return json.Unmarshal(r.Value, dest)
}

func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	var expires sql.NullInt64
	if ttl > 0 {
		expires = sql.NullInt64{Int64: time.Now().Add(ttl).UnixMilli(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, data, expires, time.Now().UnixMilli(),
	)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key)
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
