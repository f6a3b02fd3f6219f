package index

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/TFMV/synowatch/internal/tree"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Journal persists index updates until they have run successfully, so that
// updates that failed, or were cut short by a restart, are retried.
// It is safe for concurrent use.
type Journal struct {
	db    *sql.DB
	depth atomic.Int64
}

// Entry is an index update waiting in the journal.
type Entry struct {
	ID       int64
	Action   Action
	Attempts int
}

const journalDDL = `
CREATE TABLE IF NOT EXISTS index_journal (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    arg         TEXT    NOT NULL,
    path        TEXT    NOT NULL,
    is_dir      INTEGER NOT NULL DEFAULT 0,
    kind        INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT    NOT NULL DEFAULT '',
    enqueued_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    state       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_index_journal_pending
    ON index_journal (state, id);
`

// Entry states.
const (
	statePending = 0
	stateDone    = 1
	stateDropped = 2
)

// OpenJournal opens (or creates) the journal database at path in WAL mode.
// ":memory:" gives a journal that lives as long as the process.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	// SQLite allows a single writer; one connection also keeps an in-memory
	// database alive.
	db.SetMaxOpenConns(1)

	for _, step := range []struct{ what, stmt string }{
		{"set WAL mode", `PRAGMA journal_mode = WAL`},
		{"set synchronous = NORMAL", `PRAGMA synchronous = NORMAL`},
		{"apply schema", journalDDL},
	} {
		if _, err := db.Exec(step.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: %s: %w", step.what, err)
		}
	}

	j := &Journal{db: db}
	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM index_journal WHERE state = ?`, statePending).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: count pending rows: %w", err)
	}
	j.depth.Store(count)
	return j, nil
}

// Enqueue records a as pending and returns its id. Older pending entries for
// the same path are superseded and dropped, and so are entries below the
// path when a removes a directory.
func (j *Journal) Enqueue(ctx context.Context, a Action) (id int64, err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("journal: enqueue: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO index_journal (arg, path, is_dir, kind) VALUES (?, ?, ?, ?)`,
		a.Arg, a.Path, a.IsDir, int(a.Kind))
	if err != nil {
		return 0, fmt.Errorf("journal: enqueue: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("journal: enqueue: %w", err)
	}

	// Paths below a.Path sort between "a.Path/" and "a.Path0".
	below := a.Arg == ArgRemoveDir
	res, err = tx.ExecContext(ctx,
		`UPDATE index_journal SET state = ?
		 WHERE  state = ? AND id < ?
		 AND    (path = ? OR (? AND path > ? AND path < ?))`,
		stateDropped, statePending, id,
		a.Path, below, a.Path+"/", a.Path+"0")
	if err != nil {
		return 0, fmt.Errorf("journal: supersede %q: %w", a.Path, err)
	}
	superseded, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: supersede %q: %w", a.Path, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("journal: enqueue: %w", err)
	}
	j.depth.Add(1 - superseded)
	return id, nil
}

// Ack marks the entry as done. Acking an entry twice is harmless.
func (j *Journal) Ack(ctx context.Context, id int64) error {
	return j.finish(ctx, id, stateDone)
}

// Drop gives up on the entry.
func (j *Journal) Drop(ctx context.Context, id int64) error {
	return j.finish(ctx, id, stateDropped)
}

func (j *Journal) finish(ctx context.Context, id int64, state int) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE index_journal SET state = ? WHERE id = ? AND state = ?`,
		state, id, statePending)
	if err != nil {
		return fmt.Errorf("journal: update %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("journal: update %d: %w", id, err)
	}
	j.depth.Add(-n)
	return nil
}

// Fail records a failed attempt and returns the number of attempts so far.
func (j *Journal) Fail(ctx context.Context, id int64, cause error) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	var attempts int
	err := j.db.QueryRowContext(ctx,
		`UPDATE index_journal SET attempts = attempts + 1, last_error = ?
		 WHERE id = ? RETURNING attempts`, msg, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("journal: fail %d: %w", id, err)
	}
	return attempts, nil
}

// Pending returns up to n pending entries, oldest first.
func (j *Journal) Pending(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, arg, path, is_dir, kind, attempts
		 FROM   index_journal
		 WHERE  state = ?
		 ORDER  BY id
		 LIMIT  ?`, statePending, n)
	if err != nil {
		return nil, fmt.Errorf("journal: pending query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			kind int
		)
		if err := rows.Scan(&e.ID, &e.Action.Arg, &e.Action.Path, &e.Action.IsDir, &kind, &e.Attempts); err != nil {
			return nil, fmt.Errorf("journal: pending scan: %w", err)
		}
		e.Action.Kind = tree.Kind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: pending rows: %w", err)
	}
	return entries, nil
}

// Depth returns the number of pending entries.
func (j *Journal) Depth() int {
	return int(j.depth.Load())
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
