// Package sqlite implements catalog.Store on an embedded SQLite database.
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
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/catalog/sqlite/migrations"
)

// Ensure Store implements the interface.
var _ catalog.Store = (*Store)(nil)

// Store is a SQLite-backed catalog.Store.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore opens (creating if needed) catalog.db inside dataDir and runs
// pending migrations.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "catalog.db")

	// WAL mode lets readers proceed while an access event is being written
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}

	if err := s.migrate(context.Background(), migrations.FS); err != nil {
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

// migration is one numbered schema step; "001_music.up.sql" is version 1
type migration struct {
	version int
	name    string
}

// pendingMigrations lists the steps of fsys above version applied, in order
func pendingMigrations(fsys fs.FS, applied int) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}

	var pending []migration
	for _, name := range names {
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: no version prefix", name)
		}
		if version > applied {
			pending = append(pending, migration{version: version, name: name})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}

// migrate brings the schema up to date. The applied version is SQLite's
// user_version and moves in the same transaction as the step it records.
func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	var applied int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&applied); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	pending, err := pendingMigrations(fsys, applied)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := s.apply(ctx, fsys, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, fsys fs.FS, m migration) error {
	script, err := fs.ReadFile(fsys, m.name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return err
	}
	// PRAGMA statements take no bind parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}

const selectDocument = `SELECT title, file_hash, priority, accessed_at, accesses FROM music`

func scanDocument(row *sql.Row) (*catalog.Document, error) {
	var (
		doc        catalog.Document
		accessedAt int64
	)
	err := row.Scan(&doc.Title, &doc.FileHash, &doc.Priority, &accessedAt, &doc.Accesses)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if accessedAt > 0 {
		doc.AccessedAt = time.UnixMilli(accessedAt)
	}
	return &doc, nil
}

// GetByTitle looks a document up by primary key.
func (s *Store) GetByTitle(ctx context.Context, title string) (*catalog.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, selectDocument+" WHERE title = ?", title))
	if err != nil {
		return nil, fmt.Errorf("getting music %q: %w", title, err)
	}
	return doc, nil
}

// GetByFileHash looks a document up by content hash.
func (s *Store) GetByFileHash(ctx context.Context, hash string) (*catalog.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, selectDocument+" WHERE file_hash = ? ORDER BY title LIMIT 1", hash))
	if err != nil {
		return nil, fmt.Errorf("getting music by hash %s: %w", hash, err)
	}
	return doc, nil
}

// Access increments the access counter and refreshes the access time.
func (s *Store) Access(ctx context.Context, doc *catalog.Document) error {
	now := s.now()
	row := s.db.QueryRowContext(ctx,
		"UPDATE music SET accesses = accesses + 1, accessed_at = ? WHERE title = ? RETURNING accesses",
		now.UnixMilli(), doc.Title)

	var accesses int64
	if err := row.Scan(&accesses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ErrNotFound
		}
		return fmt.Errorf("accessing music %q: %w", doc.Title, err)
	}

	doc.Accesses = accesses
	doc.AccessedAt = time.UnixMilli(now.UnixMilli())
	return nil
}

// Save upserts a document.
func (s *Store) Save(ctx context.Context, doc *catalog.Document) error {
	var accessedAt int64
	if !doc.AccessedAt.IsZero() {
		accessedAt = doc.AccessedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO music (title, file_hash, priority, accessed_at, accesses)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			file_hash = excluded.file_hash,
			priority = excluded.priority,
			accessed_at = excluded.accessed_at,
			accesses = excluded.accesses
	`, doc.Title, doc.FileHash, doc.Priority, accessedAt, doc.Accesses)
	if err != nil {
		return fmt.Errorf("saving music %q: %w", doc.Title, err)
	}
	return nil
}

// Delete removes a document by title.
func (s *Store) Delete(ctx context.Context, title string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM music WHERE title = ?", title); err != nil {
		return fmt.Errorf("deleting music %q: %w", title, err)
	}
	return nil
}

// CountByFileHash counts documents sharing a content hash.
func (s *Store) CountByFileHash(ctx context.Context, hash string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM music WHERE file_hash = ?", hash).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting music by hash %s: %w", hash, err)
	}
	return n, nil
}
