// Package registry implements the AgentRegistry (spec.md §4.2): resolution of
// agents by pubkey or slug, the single orchestrator lookup, and persistence of
// long-lived secp256k1 identities so an agent's pubkey survives a restart.
//
// Built-in agent definitions are grounded on internal/identity/store.go's
// Store interface shape in the teacher, but persistence itself is grounded on
// internal/memory/backend/sqlitevec/backend.go's sql.Open("sqlite", ...) idiom
// using modernc.org/sqlite (pure Go, chosen over the teacher's cgo
// mattn/go-sqlite3 driver since this is conductor's one piece of state that
// must survive a process restart and a C toolchain requirement would be an
// unwelcome surprise for a library consumer).
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	_ "modernc.org/sqlite"
)

// IdentityRecord is a persisted agent keypair plus the slug it was minted for.
type IdentityRecord struct {
	Slug       string
	PubKey     string
	PrivateKey string
	CreatedAt  time.Time
}

// IdentityStore persists agent identities across restarts.
type IdentityStore interface {
	GetOrCreate(ctx context.Context, slug string) (IdentityRecord, error)
	Get(ctx context.Context, slug string) (IdentityRecord, bool, error)
	List(ctx context.Context) ([]IdentityRecord, error)
	Close() error
}

// SQLiteIdentityStore is the durable IdentityStore backed by an embedded
// pure-Go SQLite database.
type SQLiteIdentityStore struct {
	db *sql.DB
}

// OpenSQLiteIdentityStore opens (creating if absent) the identity database at
// path. Pass ":memory:" for ephemeral use in tests.
func OpenSQLiteIdentityStore(path string) (*SQLiteIdentityStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open identity store: %w", err)
	}
	s := &SQLiteIdentityStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteIdentityStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS identities (
			slug        TEXT PRIMARY KEY,
			pubkey      TEXT NOT NULL,
			privkey     TEXT NOT NULL,
			created_at  DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("registry: create identities table: %w", err)
	}
	return nil
}

// Get returns the identity for slug if one has been minted.
func (s *SQLiteIdentityStore) Get(ctx context.Context, slug string) (IdentityRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT slug, pubkey, privkey, created_at FROM identities WHERE slug = ?`, slug)
	var rec IdentityRecord
	if err := row.Scan(&rec.Slug, &rec.PubKey, &rec.PrivateKey, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return IdentityRecord{}, false, nil
		}
		return IdentityRecord{}, false, fmt.Errorf("registry: get identity %s: %w", slug, err)
	}
	return rec, true, nil
}

// GetOrCreate returns the existing identity for slug, minting and persisting
// a fresh secp256k1 keypair via go-nostr if none exists yet.
func (s *SQLiteIdentityStore) GetOrCreate(ctx context.Context, slug string) (IdentityRecord, error) {
	if rec, ok, err := s.Get(ctx, slug); err != nil {
		return IdentityRecord{}, err
	} else if ok {
		return rec, nil
	}

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return IdentityRecord{}, fmt.Errorf("registry: derive pubkey for %s: %w", slug, err)
	}

	rec := IdentityRecord{Slug: slug, PubKey: pk, PrivateKey: sk, CreatedAt: time.Now()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (slug, pubkey, privkey, created_at) VALUES (?, ?, ?, ?)`,
		rec.Slug, rec.PubKey, rec.PrivateKey, rec.CreatedAt)
	if err != nil {
		return IdentityRecord{}, fmt.Errorf("registry: persist identity %s: %w", slug, err)
	}
	return rec, nil
}

// List returns every persisted identity, ordered by slug.
func (s *SQLiteIdentityStore) List(ctx context.Context) ([]IdentityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, pubkey, privkey, created_at FROM identities ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("registry: list identities: %w", err)
	}
	defer rows.Close()

	var out []IdentityRecord
	for rows.Next() {
		var rec IdentityRecord
		if err := rows.Scan(&rec.Slug, &rec.PubKey, &rec.PrivateKey, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("registry: scan identity: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteIdentityStore) Close() error {
	return s.db.Close()
}
