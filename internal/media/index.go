package media

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Index is the SQLite-backed idempotency index: message id -> persisted
// URL. It guarantees a second resolution of the same message reuses the
// first write.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewIndex opens (or creates) the index database.
func NewIndex(dbPath string, logger *slog.Logger) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create index directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open index database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &Index{db: db, logger: logger}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index migration failed: %w", err)
	}
	return idx, nil
}

func (i *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS media (
		message_id  TEXT PRIMARY KEY,
		url         TEXT NOT NULL,
		mime_type   TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := i.db.Exec(schema)
	return err
}

// Lookup returns the persisted URL for a message id, or "" when the
// attachment has not been resolved yet.
func (i *Index) Lookup(ctx context.Context, messageID string) (string, error) {
	var url string
	err := i.db.QueryRowContext(ctx,
		`SELECT url FROM media WHERE message_id = ?`, messageID,
	).Scan(&url)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

// Put records a resolved attachment. A concurrent duplicate keeps the
// first row.
func (i *Index) Put(ctx context.Context, messageID, url, mimeType string) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO media (message_id, url, mime_type) VALUES (?, ?, ?)`,
		messageID, url, mimeType,
	)
	return err
}

// Close closes the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}
