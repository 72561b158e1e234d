// Package catalog is the durable store of ingested book records. It backs
// both the resume check (skip already-ingested Drive files) and the
// downloadable JSON artifact of each run.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/scanforge/bookscan/internal/persistence/sqlite"
)

const (
	dbName        = "catalog.sqlite"
	schemaVersion = 1
)

// Entry is one ingested book. FileID is the Drive file ID and the store key;
// merging the same FileID twice overwrites in place.
type Entry struct {
	FileID       string    `json:"drive_file_id"`
	Name         string    `json:"name"`
	AcademicYear string    `json:"academic_year_id"`
	Term         string    `json:"term_id"`
	Subject      string    `json:"subject_id"`
	BookType     string    `json:"book_type_id"`
	ReleaseYear  string    `json:"release_year"`
	PageCount    int       `json:"page_count"`
	FileSizeMB   int       `json:"file_size_mb"`
	ImageURL     string    `json:"image_url"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// Store persists catalog entries in SQLite. Every merge is committed
// immediately, so an interrupted run loses nothing that was already merged.
type Store struct {
	db *sql.DB
}

// Open creates or opens the catalog store in dir.
func Open(dir string) (*Store, error) {
	db, err := sqlite.Open(filepath.Join(dir, dbName), sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS catalog_entries (
		file_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		academic_year TEXT NOT NULL,
		term TEXT NOT NULL,
		subject TEXT NOT NULL,
		book_type TEXT NOT NULL,
		release_year TEXT NOT NULL,
		page_count INTEGER NOT NULL,
		file_size_mb INTEGER NOT NULL,
		image_url TEXT NOT NULL,
		ingested_at TEXT NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Merge upserts the entry keyed by FileID. The original insertion position
// is kept on overwrite, so Snapshot order stays stable across re-ingestion.
func (s *Store) Merge(ctx context.Context, e Entry) error {
	query := `
	INSERT INTO catalog_entries
		(file_id, name, academic_year, term, subject, book_type, release_year, page_count, file_size_mb, image_url, ingested_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(file_id) DO UPDATE SET
		name = excluded.name,
		academic_year = excluded.academic_year,
		term = excluded.term,
		subject = excluded.subject,
		book_type = excluded.book_type,
		release_year = excluded.release_year,
		page_count = excluded.page_count,
		file_size_mb = excluded.file_size_mb,
		image_url = excluded.image_url,
		ingested_at = excluded.ingested_at
	`
	_, err := s.db.ExecContext(ctx, query,
		e.FileID, e.Name, e.AcademicYear, e.Term, e.Subject, e.BookType,
		e.ReleaseYear, e.PageCount, e.FileSizeMB, e.ImageURL,
		e.IngestedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("merge %s: %w", e.FileID, err)
	}
	return nil
}

// Contains reports whether the file ID was already ingested.
func (s *Store) Contains(ctx context.Context, fileID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM catalog_entries WHERE file_id = ?", fileID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProcessedIDs returns the full set of ingested file IDs for the resume
// check at pipeline start.
func (s *Store) ProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file_id FROM catalog_entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Snapshot returns all entries in insertion order.
func (s *Store) Snapshot(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, name, academic_year, term, subject, book_type,
		       release_year, page_count, file_size_mb, image_url, ingested_at
		FROM catalog_entries ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ingestedAt string
		if err := rows.Scan(&e.FileID, &e.Name, &e.AcademicYear, &e.Term,
			&e.Subject, &e.BookType, &e.ReleaseYear, &e.PageCount,
			&e.FileSizeMB, &e.ImageURL, &ingestedAt); err != nil {
			return nil, err
		}
		e.IngestedAt, _ = time.Parse(time.RFC3339, ingestedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
