// Package storage persists check definitions and their execution results in
// SQLite. Definitions get full CRUD; results are append-only.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazz-dev/beacon/internal/check"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a check id has no row.
var ErrNotFound = errors.New("check not found")

const schema = `
CREATE TABLE IF NOT EXISTS checks (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    name         TEXT    NOT NULL DEFAULT '',
    kind         TEXT    NOT NULL CHECK(kind IN ('http', 'script')),
    target       TEXT    NOT NULL,
    interval_sec INTEGER NOT NULL CHECK(interval_sec > 0),
    enabled      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS results (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    check_id   INTEGER NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
    started_at TEXT    NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    pass       INTEGER NOT NULL,
    message    TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_results_check ON results(check_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_checks_enabled ON checks(enabled);
`

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// foreign_keys=ON makes check deletion cascade to its result history.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// --- Check definitions ---

// CreateCheck inserts the definition and fills in the assigned id.
func (d *DB) CreateCheck(ctx context.Context, c *check.Check) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO checks (name, kind, target, interval_sec, enabled) VALUES (?, ?, ?, ?, ?)`,
		c.Name, string(c.Kind), c.Target, int64(c.Interval/time.Second), boolToInt(c.Enabled),
	)
	if err != nil {
		return fmt.Errorf("inserting check: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted check id: %w", err)
	}
	c.ID = id
	return nil
}

const checkColumns = `id, name, kind, target, interval_sec, enabled`

// GetCheck returns the definition for id, or ErrNotFound.
func (d *DB) GetCheck(ctx context.Context, id int64) (*check.Check, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE id = ?`, id)
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying check %d: %w", id, err)
	}
	return c, nil
}

// ListChecks returns at most limit definitions matching the enabled filter.
func (d *DB) ListChecks(ctx context.Context, enabled bool, limit int) ([]*check.Check, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE enabled = ? LIMIT ?`,
		boolToInt(enabled), limit)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// AllChecks returns every definition, enabled or not.
func (d *DB) AllChecks(ctx context.Context) ([]*check.Check, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// EnabledChecks returns every definition with enabled=true. Used by the
// startup reconciliation pass.
func (d *DB) EnabledChecks(ctx context.Context) ([]*check.Check, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying enabled checks: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// SetEnabled flips the enabled flag, or returns ErrNotFound.
func (d *DB) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE checks SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("updating check %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating check %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCheck removes the definition and (via cascade) its result history,
// returning the deleted definition, or ErrNotFound.
func (d *DB) DeleteCheck(ctx context.Context, id int64) (*check.Check, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning delete of check %d: %w", id, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE id = ?`, id)
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying check %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM checks WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("deleting check %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete of check %d: %w", id, err)
	}
	return c, nil
}

// --- Results ---

// InsertResult appends one execution result and fills in the assigned id.
func (d *DB) InsertResult(ctx context.Context, r *check.Result) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO results (check_id, started_at, elapsed_ms, pass, message) VALUES (?, ?, ?, ?, ?)`,
		r.CheckID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.Elapsed.Milliseconds(),
		boolToInt(r.Pass),
		r.Message,
	)
	if err != nil {
		return fmt.Errorf("inserting result for check %d: %w", r.CheckID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted result id: %w", err)
	}
	r.ID = id
	return nil
}

// ListResults returns up to limit results for a check, most recent first.
func (d *DB) ListResults(ctx context.Context, checkID int64, limit int) ([]check.Result, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, check_id, started_at, elapsed_ms, pass, message
		 FROM results WHERE check_id = ? ORDER BY id DESC LIMIT ?`,
		checkID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying results for check %d: %w", checkID, err)
	}
	defer rows.Close()

	var out []check.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return out, nil
}

// LastResult returns the most recent result for a check, or nil if none.
func (d *DB) LastResult(ctx context.Context, checkID int64) (*check.Result, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, check_id, started_at, elapsed_ms, pass, message
		 FROM results WHERE check_id = ? ORDER BY id DESC LIMIT 1`,
		checkID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest result for check %d: %w", checkID, err)
	}
	return r, nil
}

// UptimePercent returns the percentage of passing executions among the last
// N results for a check. A check with no history reports 0.
func (d *DB) UptimePercent(ctx context.Context, checkID int64, last int) (float64, error) {
	var total int
	var passed sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(pass)
		FROM (
			SELECT pass FROM results WHERE check_id = ? ORDER BY id DESC LIMIT ?
		)
	`, checkID, last).Scan(&total, &passed)
	if err != nil {
		return 0, fmt.Errorf("calculating uptime for check %d: %w", checkID, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(passed.Int64) / float64(total) * 100, nil
}

// --- Scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanCheck(row scanner) (*check.Check, error) {
	var c check.Check
	var kind string
	var intervalSec int64
	var enabled int
	if err := row.Scan(&c.ID, &c.Name, &kind, &c.Target, &intervalSec, &enabled); err != nil {
		return nil, err
	}
	c.Kind = check.Kind(kind)
	c.Interval = time.Duration(intervalSec) * time.Second
	c.Enabled = enabled != 0
	return &c, nil
}

func scanChecks(rows *sql.Rows) ([]*check.Check, error) {
	var out []*check.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning check row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating check rows: %w", err)
	}
	return out, nil
}

func scanResult(row scanner) (*check.Result, error) {
	var r check.Result
	var startedAt string
	var elapsedMs int64
	var pass int
	if err := row.Scan(&r.ID, &r.CheckID, &startedAt, &elapsedMs, &pass, &r.Message); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at %q: %w", startedAt, err)
	}
	r.StartedAt = t
	r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	r.Pass = pass != 0
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
