// Package audit keeps a local SQLite ledger of pipeline outcomes. File names
// are stored as a hash prefix so the ledger never holds account numbers.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conneroisu/docrelay/internal/intake"
	"github.com/conneroisu/docrelay/internal/logging"
)

//go:embed schema.sql
var schema string

// fixed width so finished_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one stored outcome.
type Entry struct {
	EventID    string        `json:"event_id"`
	FileHash   string        `json:"file_hash"`
	Template   string        `json:"template,omitempty"`
	Status     intake.Status `json:"status"`
	Reason     intake.Reason `json:"reason,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	Attached   bool          `json:"attached"`
	CC         bool          `json:"cc"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Ledger records outcomes. It is an intake.OutcomeSink.
type Ledger struct {
	db     *sql.DB
	logger logging.Logger
}

// Open creates or opens the ledger at path.
func Open(path string, logger logging.Logger) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("audit db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return open(path, logger)
}

// OpenInMemory creates a ledger that lives for the process only.
func OpenInMemory(logger logging.Logger) (*Ledger, error) {
	return open(":memory:", logger)
}

func open(dsn string, logger logging.Logger) (*Ledger, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// one connection keeps :memory: a single database and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &Ledger{db: db, logger: logger.WithComponent("audit")}, nil
}

// HashName returns the stored form of a file name.
func HashName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// Record stores out. Failures are logged, never returned to the worker.
func (l *Ledger) Record(out intake.Outcome) {
	if err := l.Insert(context.Background(), out); err != nil {
		l.logger.Warn(context.Background(), err, "Failed to record outcome", "event_id", out.EventID)
	}
}

// Insert stores out.
func (l *Ledger) Insert(ctx context.Context, out intake.Outcome) error {
	finished := out.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	name := out.OriginalName
	if name == "" {
		name = out.File
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO outcomes (event_id, file_hash, template, status, reason, stage, attached, cc, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.EventID, HashName(name), out.Template, string(out.Status), string(out.Reason), out.Stage,
		out.Attached, out.CC, out.Duration.Milliseconds(), finished.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Summary counts stored outcomes per status.
func (l *Ledger) Summary(ctx context.Context) (map[intake.Status]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outcomes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	counts := make(map[intake.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		counts[intake.Status(status)] = n
	}
	return counts, rows.Err()
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, file_hash, template, status, reason, stage, attached, cc, duration_ms, finished_at
		 FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			status     string
			reason     string
			durationMS int64
			finished   string
		)
		if err := rows.Scan(&e.EventID, &e.FileHash, &e.Template, &status, &reason, &e.Stage,
			&e.Attached, &e.CC, &durationMS, &finished); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		e.Status = intake.Status(status)
		e.Reason = intake.Reason(reason)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.FinishedAt, _ = time.Parse(timeLayout, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries finished before cutoff and returns how many went.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM outcomes WHERE finished_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
