// Package history provides a SQLite-backed log of index builds. Each build
// records a fingerprint of the document, the resulting chunk count and
// dimension, and its outcome, so operators can see what the store served and
// when. The index itself is never persisted here.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/prepai-go/internal/chunker"
	"github.com/54b3r/prepai-go/internal/rag"
)

// Outcome classifies a recorded build.
type Outcome string

const (
	// OutcomeOK is a build that replaced the index with at least one chunk.
	OutcomeOK Outcome = "ok"
	// OutcomeEmpty is a build of an empty document that cleared the index.
	OutcomeEmpty Outcome = "empty"
	// OutcomeEmbeddingUnavailable is a build that failed to embed.
	OutcomeEmbeddingUnavailable Outcome = "embedding_unavailable"
	// OutcomeError is any other failed build.
	OutcomeError Outcome = "error"
)

// Build is one row of the build log.
type Build struct {
	// ID is the row identifier assigned on insert.
	ID int64 `json:"id"`
	// DocHash fingerprints the whitespace-normalised document.
	DocHash string `json:"doc_hash"`
	// Source describes where the document came from (paths, URLs, "api").
	Source string `json:"source"`
	// Chunks is the chunk count after the build (0 on empty or failure).
	Chunks int `json:"chunks"`
	// Dimension is the embedding dimensionality after the build.
	Dimension int `json:"dimension"`
	// Outcome classifies the build.
	Outcome Outcome `json:"outcome"`
	// Error holds the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// Duration is the wall-clock build time.
	Duration time.Duration `json:"duration"`
	// CreatedAt is when the build was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// NewBuild assembles a Build from the result of a BuildIndex call.
func NewBuild(document, source string, chunks, dimension int, buildErr error, d time.Duration) Build {
	b := Build{
		DocHash:   Hash(document),
		Source:    source,
		Chunks:    chunks,
		Dimension: dimension,
		Duration:  d,
	}
	switch {
	case buildErr == nil && chunks == 0:
		b.Outcome = OutcomeEmpty
	case buildErr == nil:
		b.Outcome = OutcomeOK
	case errors.Is(buildErr, rag.ErrEmbeddingUnavailable):
		b.Outcome = OutcomeEmbeddingUnavailable
		b.Error = buildErr.Error()
	default:
		b.Outcome = OutcomeError
		b.Error = buildErr.Error()
	}
	if buildErr != nil {
		// A failed build leaves the previous index serving; the counts of
		// this attempt are meaningless.
		b.Chunks, b.Dimension = 0, 0
	}
	return b
}

// Hash returns a short hex fingerprint of the normalised document, so
// documents differing only in whitespace hash equally.
func Hash(document string) string {
	sum := sha256.Sum256([]byte(chunker.Normalize(document)))
	return hex.EncodeToString(sum[:16])
}

// Log persists and lists build records. Implementations must be safe for
// concurrent use.
type Log interface {
	// Record persists b, ignoring b.ID and b.CreatedAt.
	Record(ctx context.Context, b Build) error
	// Recent returns the most recent n builds, newest first.
	Recent(ctx context.Context, n int) ([]Build, error)
	// Close releases any resources held by the log.
	Close() error
}

// SQLiteLog is a Log backed by a local SQLite database.
type SQLiteLog struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the build log database.
// It resolves to ~/.prepai/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".prepai")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("history: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteLog at path and runs the schema migration.
// Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteLog, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY and keeps ":memory:" to one database.
	db.SetMaxOpenConns(1)

	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// migrate creates the schema if it does not already exist.
func (l *SQLiteLog) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS builds (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    doc_hash     TEXT    NOT NULL,
    source       TEXT    NOT NULL,
    chunks       INTEGER NOT NULL,
    dimension    INTEGER NOT NULL,
    outcome      TEXT    NOT NULL,
    error        TEXT    NOT NULL DEFAULT '',
    duration_ms  INTEGER NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (milliseconds)
);
CREATE INDEX IF NOT EXISTS idx_builds_created ON builds (created_at);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record persists a single build.
func (l *SQLiteLog) Record(ctx context.Context, b Build) error {
	const q = `INSERT INTO builds (doc_hash, source, chunks, dimension, outcome, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, q,
		b.DocHash, b.Source, b.Chunks, b.Dimension, string(b.Outcome), b.Error,
		b.Duration.Milliseconds(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n builds, newest first.
func (l *SQLiteLog) Recent(ctx context.Context, n int) ([]Build, error) {
	const q = `
SELECT id, doc_hash, source, chunks, dimension, outcome, error, duration_ms, created_at
FROM   builds
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := l.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		var b Build
		var outcome string
		var durMS, ts int64
		if err := rows.Scan(&b.ID, &b.DocHash, &b.Source, &b.Chunks, &b.Dimension, &outcome, &b.Error, &durMS, &ts); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		b.Outcome = Outcome(outcome)
		b.Duration = time.Duration(durMS) * time.Millisecond
		b.CreatedAt = time.UnixMilli(ts)
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return builds, nil
}

// Close releases the database connection pool.
func (l *SQLiteLog) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}
