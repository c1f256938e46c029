package userstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	selectUserSQL = `SELECT access_token, handle, pending_data, pending_from,
		pending_document_id, pending_shared_at, updated_at
		FROM users WHERE session_key = ?`

	upsertUserSQL = `INSERT INTO users (session_key, access_token, handle, pending_data,
		pending_from, pending_document_id, pending_shared_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			access_token = excluded.access_token,
			handle = excluded.handle,
			pending_data = excluded.pending_data,
			pending_from = excluded.pending_from,
			pending_document_id = excluded.pending_document_id,
			pending_shared_at = excluded.pending_shared_at,
			updated_at = excluded.updated_at`

	listKeysSQL = `SELECT session_key FROM users ORDER BY session_key`
)

// SQLiteStore keeps credential records in an embedded SQLite database with
// WAL mode. Merges run in a transaction under the per-key lock.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	locks  *keyLocker
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// pending migrations.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening credential database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("userstore: open sqlite: %w", err)
	}

	// One writer connection keeps SQLite from returning SQLITE_BUSY under
	// concurrent merges.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
		locks:  newKeyLocker(),
		now:    time.Now,
	}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("userstore: %s: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("userstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("userstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("userstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Get returns the record for key, or nil if none exists.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	return scanRecord(s.db.QueryRowContext(ctx, selectUserSQL, key), key)
}

// Merge applies patch to the record for key inside a transaction.
func (s *SQLiteStore) Merge(ctx context.Context, key string, patch Patch) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	unlock := s.locks.lock(key)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("userstore: begin merge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectUserSQL, key), key)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		rec = &Record{Key: key}
	}

	patch.Apply(rec, s.now())

	var (
		data     []byte
		from     string
		docID    string
		sharedAt int64
	)

	if rec.Pending != nil {
		data = rec.Pending.Data
		from = rec.Pending.From
		docID = rec.Pending.DocumentID
		sharedAt = rec.Pending.SharedAt.UnixNano()
	}

	if _, err := tx.ExecContext(ctx, upsertUserSQL,
		key, rec.AccessToken, rec.Handle, data, from, docID, sharedAt, rec.UpdatedAt.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("userstore: upserting record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("userstore: commit merge: %w", err)
	}

	return rec, nil
}

// Keys returns all session keys ordered ascending.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("userstore: listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("userstore: scanning key: %w", err)
		}

		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userstore: iterating keys: %w", err)
	}

	return keys, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecord(row *sql.Row, key string) (*Record, error) {
	var (
		rec      = Record{Key: key}
		data     []byte
		from     string
		docID    string
		sharedAt int64
		updated  int64
	)

	err := row.Scan(&rec.AccessToken, &rec.Handle, &data, &from, &docID, &sharedAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not registered"
	}

	if err != nil {
		return nil, fmt.Errorf("userstore: reading record: %w", err)
	}

	if len(data) > 0 {
		rec.Pending = &PendingFile{
			Data:       data,
			From:       from,
			DocumentID: docID,
			SharedAt:   time.Unix(0, sharedAt).UTC(),
		}
	}

	rec.UpdatedAt = time.Unix(0, updated).UTC()

	return &rec, nil
}
