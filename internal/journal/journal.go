// Package journal keeps an SQLite audit trail of paint runs. It is written
// to, never read back to resume a run.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"canvaspaint/internal/paint"
	"canvaspaint/internal/plan"
)

// Schema creates the journal tables.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	image TEXT NOT NULL,
	pixels INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	error TEXT
);
CREATE TABLE IF NOT EXISTS passes (
	run_id TEXT NOT NULL REFERENCES runs(id),
	pass INTEGER NOT NULL,
	attempted INTEGER NOT NULL,
	written INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	out_of_range INTEGER NOT NULL,
	error TEXT,
	finished_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, pass)
);
CREATE TABLE IF NOT EXISTS pixels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	pass INTEGER NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	color TEXT NOT NULL,
	outcome TEXT NOT NULL,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pixels_run ON pixels(run_id, pass);
`

// Journal records one run.
type Journal struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the database at path and starts a run for image.
func Open(ctx context.Context, path, image string, pixels int, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	j, err := New(ctx, db, image, pixels, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// New starts a run on an already opened database.
func New(ctx context.Context, db *sql.DB, image string, pixels int, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	j := &Journal{
		db:     db,
		runID:  uuid.Must(uuid.NewV7()).String(),
		logger: logger,
		now:    time.Now,
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (id, image, pixels, started_at) VALUES (?, ?, ?, ?)`,
		j.runID, image, pixels, j.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("journal: start run: %w", err)
	}
	return j, nil
}

// RunID returns the id of the current run.
func (j *Journal) RunID() string { return j.runID }

// RecordPixel stores one pixel outcome. Failures are logged, not returned,
// so a broken journal never stops the paint.
func (j *Journal) RecordPixel(ctx context.Context, pass int, e plan.Entry, outcome paint.Outcome) {
	_, err := j.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO pixels (run_id, pass, x, y, color, outcome, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.runID, pass, e.Canvas.X, e.Canvas.Y, e.Color, string(outcome), j.now().UnixMilli())
	if err != nil {
		j.logger.WarnContext(ctx, "journal write failed", "table", "pixels", "error", err)
	}
}

// RecordPass stores the result of one pass.
func (j *Journal) RecordPass(ctx context.Context, pass int, stats paint.Stats, passErr error) {
	_, err := j.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT OR REPLACE INTO passes (run_id, pass, attempted, written, skipped, out_of_range, error, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, pass, stats.Attempted, stats.Written, stats.Skipped, stats.OutOfRange,
		errText(passErr), j.now().UnixMilli())
	if err != nil {
		j.logger.WarnContext(ctx, "journal write failed", "table", "passes", "error", err)
	}
}

// Finish marks the run as ended with runErr.
func (j *Journal) Finish(ctx context.Context, runErr error) error {
	_, err := j.db.ExecContext(context.WithoutCancel(ctx),
		`UPDATE runs SET finished_at = ?, error = ? WHERE id = ?`,
		j.now().UnixMilli(), errText(runErr), j.runID)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

// Outcomes counts the recorded pixel outcomes of the current run.
func (j *Journal) Outcomes(ctx context.Context) (map[paint.Outcome]int, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM pixels WHERE run_id = ? GROUP BY outcome`, j.runID)
	if err != nil {
		return nil, fmt.Errorf("journal: outcomes: %w", err)
	}
	defer rows.Close()

	out := map[paint.Outcome]int{}
	for rows.Next() {
		var o string
		var n int
		if err := rows.Scan(&o, &n); err != nil {
			return nil, fmt.Errorf("journal: outcomes: %w", err)
		}
		out[paint.Outcome(o)] = n
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

func errText(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}
