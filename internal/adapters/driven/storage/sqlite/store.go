package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sequra/s3logsbeat/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// FileName is the database file created inside the data directory.
const FileName = "registry.db"

// Ensure Store implements the interface.
var _ driven.StateStore = (*Store)(nil)

// Store is a SQLite-backed StateStore.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens or creates the registry inside dataDir.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", domain.ErrInvalidConfig)
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)

	// WAL with full sync: a committed Put survives power loss.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_read_states.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

const selectColumns = `
	SELECT object_key, etag, size, read_offset, completed, failed, attempts, last_error, updated_at
	FROM read_states`

// Get retrieves the read state for an object key.
func (s *Store) Get(ctx context.Context, key string) (*domain.ReadState, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE object_key = ?`, key)

	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning read state: %w", err)
	}
	return &state, nil
}

// Put stores or replaces a read state.
func (s *Store) Put(ctx context.Context, state domain.ReadState) error {
	if state.Key == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_states (object_key, etag, size, read_offset, completed, failed, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_key) DO UPDATE SET
			etag = excluded.etag,
			size = excluded.size,
			read_offset = excluded.read_offset,
			completed = excluded.completed,
			failed = excluded.failed,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, state.Key, state.ETag, state.Size, state.Offset, state.Completed, state.Failed,
		state.Attempts, state.LastError, toUnixNano(state.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving read state: %w", err)
	}
	return nil
}

// ListIncomplete returns states neither completed nor failed.
func (s *Store) ListIncomplete(ctx context.Context) ([]domain.ReadState, error) {
	return s.query(ctx, selectColumns+` WHERE completed = 0 AND failed = 0 ORDER BY object_key`)
}

// List returns every state ordered by key.
func (s *Store) List(ctx context.Context) ([]domain.ReadState, error) {
	return s.query(ctx, selectColumns+` ORDER BY object_key`)
}

// Delete removes the read state for a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM read_states WHERE object_key = ?`, key); err != nil {
		return fmt.Errorf("deleting read state: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string) ([]domain.ReadState, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying read states: %w", err)
	}
	defer rows.Close()

	var states []domain.ReadState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning read state: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating read states: %w", err)
	}
	return states, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (domain.ReadState, error) {
	var state domain.ReadState
	var updatedAt int64
	err := row.Scan(&state.Key, &state.ETag, &state.Size, &state.Offset, &state.Completed,
		&state.Failed, &state.Attempts, &state.LastError, &updatedAt)
	if err != nil {
		return domain.ReadState{}, err
	}
	if updatedAt != 0 {
		state.UpdatedAt = time.Unix(0, updatedAt).UTC()
	}
	return state, nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
