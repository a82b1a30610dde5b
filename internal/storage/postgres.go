package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"vollahub/internal/config"
	"vollahub/pkg/types"
)

// PostgresStore keeps snapshots in a content_snapshots table with the
// entries serialised as JSONB.
type PostgresStore struct {
	db          *sql.DB
	autoMigrate bool
}

// NewPostgresStore opens, pings and optionally migrates a Postgres database.
// With CreateIfMissing a missing database is created first.
func NewPostgresStore(cfg config.PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres config missing dsn")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if !cfg.CreateIfMissing || !isMissingDatabaseErr(err) {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
		if err := createDatabase(ctx, cfg.DSN); err != nil {
			return nil, err
		}
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	store, err := NewPostgresStoreFromDB(ctx, db, cfg.AutoMigrate)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an open database handle.
func NewPostgresStoreFromDB(ctx context.Context, db *sql.DB, autoMigrate bool) (*PostgresStore, error) {
	s := &PostgresStore{db: db, autoMigrate: autoMigrate}
	if autoMigrate {
		if err := s.ensureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Save upserts the snapshot for its kind.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	if err := s.upsert(ctx, snap); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := s.upsert(ctx, snap); retryErr != nil {
				return fmt.Errorf("save snapshot: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

const upsertSnapshot = `
    INSERT INTO content_snapshots (kind, run_id, status, message, error, page, entry_count, entries, started_at, finished_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    ON CONFLICT (kind) DO UPDATE SET
        run_id = EXCLUDED.run_id,
        status = EXCLUDED.status,
        message = EXCLUDED.message,
        error = EXCLUDED.error,
        page = EXCLUDED.page,
        entry_count = EXCLUDED.entry_count,
        entries = EXCLUDED.entries,
        started_at = EXCLUDED.started_at,
        finished_at = EXCLUDED.finished_at
`

const selectSnapshots = `
    SELECT kind, run_id, status, message, error, page, entry_count, entries, started_at, finished_at
    FROM content_snapshots
`

func (s *PostgresStore) upsert(ctx context.Context, snap Snapshot) error {
	entries := snap.Entries
	if entries == nil {
		entries = []types.ContentEntry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertSnapshot,
		string(snap.Kind),
		snap.RunID,
		snap.Status,
		snap.Message,
		snap.Error,
		snap.Page,
		snap.Count,
		string(payload),
		snap.StartedAt,
		snap.FinishedAt,
	)
	return err
}

// Get loads the snapshot for kind.
func (s *PostgresStore) Get(ctx context.Context, kind types.CrawlKind) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, selectSnapshots+` WHERE kind = $1`, string(kind))
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", kind, err)
	}
	return snap, true, nil
}

// List returns all stored snapshots ordered by kind.
func (s *PostgresStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, selectSnapshots+` ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// Remove deletes the snapshot for kind.
func (s *PostgresStore) Remove(ctx context.Context, kind types.CrawlKind) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_snapshots WHERE kind = $1`, string(kind)); err != nil {
		return fmt.Errorf("remove snapshot %s: %w", kind, err)
	}
	return nil
}

// Close closes the underlying DB connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snap    Snapshot
		kind    string
		payload []byte
	)
	if err := row.Scan(&kind, &snap.RunID, &snap.Status, &snap.Message, &snap.Error, &snap.Page,
		&snap.Count, &payload, &snap.StartedAt, &snap.FinishedAt); err != nil {
		return Snapshot{}, err
	}
	snap.Kind = types.CrawlKind(kind)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &snap.Entries); err != nil {
			return Snapshot{}, fmt.Errorf("decode entries: %w", err)
		}
	}
	return snap, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content_snapshots (
		    kind TEXT PRIMARY KEY,
		    run_id TEXT NOT NULL DEFAULT '',
		    status TEXT NOT NULL,
		    message TEXT NOT NULL DEFAULT '',
		    error TEXT NOT NULL DEFAULT '',
		    page TEXT NOT NULL DEFAULT '',
		    entry_count INT NOT NULL DEFAULT 0,
		    entries JSONB NOT NULL DEFAULT '[]'::jsonb,
		    started_at TIMESTAMPTZ,
		    finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_snapshots_finished_at ON content_snapshots (finished_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isMissingDatabaseErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, dsn string) error {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open("postgres", parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()

	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
