package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/proofstore"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ HeadStore        = (*Store)(nil)
	_ ClaimStore       = (*Store)(nil)
	_ proofstore.Store = (*Store)(nil)
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// registryHeadName is the row holding the prediction registry reference.
const registryHeadName = "predictions"

// Store provides the node's durable state: the registry head reference,
// in-flight claims and (optionally) content-addressed blobs.
type Store struct {
	db     *sql.DB
	driver string
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB, driver string) (*Store, error) {
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// currentSchemaVersion is bumped whenever the schema changes.
// Add a new migration function in the migrations slice below.
const currentSchemaVersion = 2

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: registry head + claims
		s.migrateV2, // v1 → v2: blobs
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(s.rebind(`UPDATE schema_version SET version = ?`), i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the registry head and claim tables (v0 → v1).
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS registry_head (
		name       TEXT PRIMARY KEY,
		cid        TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS claims (
		prediction_id TEXT PRIMARY KEY,
		owner         TEXT NOT NULL,
		expires_at    BIGINT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the blob table used by the sql proof store (v1 → v2).
func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS blobs (
		cid        TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`)
	return err
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	return v, err
}

// ---------------------------------------------------------------------------
// Registry head
// ---------------------------------------------------------------------------

// LoadHead returns the current registry reference, or "" when none is set.
func (s *Store) LoadHead(ctx context.Context) (string, error) {
	var cid string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT cid FROM registry_head WHERE name = ?`), registryHeadName).Scan(&cid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load head: %w", err)
	}
	return cid, nil
}

// CompareAndSwapHead moves the registry reference from old to next. It
// reports false without error when the stored reference is not old. An empty
// old means "no head yet".
func (s *Store) CompareAndSwapHead(ctx context.Context, old, next string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	var (
		res sql.Result
		err error
	)
	if old == "" {
		res, err = s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO registry_head (name, cid, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (name) DO NOTHING`),
			registryHeadName, next, now,
		)
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE registry_head SET cid = ?, updated_at = ? WHERE name = ? AND cid = ?`),
			next, now, registryHeadName, old,
		)
	}
	if err != nil {
		return false, fmt.Errorf("swap head: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap head rows: %w", err)
	}
	return n == 1, nil
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

// ClaimPrediction takes the in-flight marker for id on behalf of owner. An
// expired marker held by anyone is replaced. Returns false if another live
// claim exists.
func (s *Store) ClaimPrediction(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM claims WHERE prediction_id = ? AND expires_at < ?`),
		id, now.UnixMilli(),
	); err != nil {
		return false, fmt.Errorf("expire claim: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO claims (prediction_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (prediction_id) DO NOTHING`),
		id, owner, now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleasePrediction drops the marker for id if owner still holds it.
func (s *Store) ReleasePrediction(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM claims WHERE prediction_id = ? AND owner = ?`), id, owner)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Blobs
// ---------------------------------------------------------------------------

// Put stores data under its content id. Re-putting existing content is a no-op.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	cid := proofstore.Digest(data)
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO blobs (cid, data, created_at) VALUES (?, ?, ?)
		ON CONFLICT (cid) DO NOTHING`),
		cid, string(data), now,
	)
	if err != nil {
		return "", fmt.Errorf("insert blob: %w", err)
	}
	return cid, nil
}

// Get returns the blob stored under cid.
func (s *Store) Get(ctx context.Context, cid string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM blobs WHERE cid = ?`), cid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrProofNotFound, cid)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return []byte(data), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// rebind rewrites ? placeholders as $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
