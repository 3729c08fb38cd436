package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store.
//
// A single-file database with zero setup, suited for development and
// single-process deployments that need the checkpoint log to survive
// restarts. WAL mode is enabled so readers don't block the writer.
//
// Schema:
//   - run_checkpoints: append-only checkpoint log, UNIQUE(run_id, seq)
//   - run_interrupts: pending interrupt tokens, one row per suspended run
//
// State snapshots and interrupt payloads are stored as JSON.
//
// Type parameter S is the state snapshot type (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral database in tests.
//
//	st, err := store.NewSQLiteStore[flow.Values]("./negotiations.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports a single writer; keep one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	checkpoints := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			cursor TEXT NOT NULL,
			state TEXT NOT NULL,
			pending INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(run_id, seq)
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("failed to create run_checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON run_checkpoints(run_id, seq)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_run: %w", err)
	}

	interrupts := `
		CREATE TABLE IF NOT EXISTS run_interrupts (
			run_id TEXT NOT NULL PRIMARY KEY,
			step TEXT NOT NULL,
			seq INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, interrupts); err != nil {
		return fmt.Errorf("failed to create run_interrupts table: %w", err)
	}
	return nil
}

func (s *SQLiteStore[S]) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Append adds a checkpoint, enforcing the gapless sequence inside a
// transaction.
func (s *SQLiteStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
	if err := s.guard(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM run_checkpoints WHERE run_id = ?", cp.RunID,
	).Scan(&latest); err != nil {
		return fmt.Errorf("failed to read latest seq: %w", err)
	}
	want := int(latest.Int64) + 1
	if cp.Seq != want {
		return fmt.Errorf("%w: run %q expected seq %d, got %d", ErrSequenceGap, cp.RunID, want, cp.Seq)
	}

	pending := 0
	if cp.Pending {
		pending = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO run_checkpoints (run_id, seq, cursor, state, pending, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cp.RunID, cp.Seq, cp.Cursor, string(stateJSON), pending, cp.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// History returns the run's checkpoints ordered by seq.
func (s *SQLiteStore[S]) History(ctx context.Context, runID string) ([]Checkpoint[S], error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, cursor, state, pending, created_at
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint[S]
	for rows.Next() {
		cp, err := scanCheckpoint[S](rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Latest returns the run's most recent checkpoint.
func (s *SQLiteStore[S]) Latest(ctx context.Context, runID string) (Checkpoint[S], error) {
	var zero Checkpoint[S]
	if err := s.guard(); err != nil {
		return zero, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, seq, cursor, state, pending, created_at
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, runID)

	cp, err := scanCheckpoint[S](row)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	return cp, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp        Checkpoint[S]
		stateJSON string
		pending   int
		createdAt string
	)
	if err := row.Scan(&cp.RunID, &cp.Seq, &cp.Cursor, &stateJSON, &pending, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cp, sql.ErrNoRows
		}
		return cp, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return cp, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	cp.Pending = pending != 0
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return cp, fmt.Errorf("failed to parse created_at: %w", err)
	}
	cp.CreatedAt = ts
	return cp, nil
}

// SaveInterrupt records a pending token; the primary key rejects a second
// pending token for the same run.
func (s *SQLiteStore[S]) SaveInterrupt(ctx context.Context, token Interrupt) error {
	if err := s.guard(); err != nil {
		return err
	}

	payloadJSON, err := json.Marshal(token.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal interrupt payload: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO run_interrupts (run_id, step, seq, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, token.RunID, token.Step, token.Seq, string(payloadJSON), token.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to save interrupt: %w", err)
	}
	return nil
}

// PendingInterrupt returns the pending token without consuming it.
func (s *SQLiteStore[S]) PendingInterrupt(ctx context.Context, runID string) (Interrupt, error) {
	if err := s.guard(); err != nil {
		return Interrupt{}, err
	}
	return readInterrupt(ctx, s.db, runID)
}

// querier covers *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readInterrupt(ctx context.Context, q querier, runID string) (Interrupt, error) {
	var (
		token       Interrupt
		payloadJSON string
		createdAt   string
	)
	err := q.QueryRowContext(ctx, `
		SELECT run_id, step, seq, payload, created_at
		FROM run_interrupts
		WHERE run_id = ?
	`, runID).Scan(&token.RunID, &token.Step, &token.Seq, &payloadJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Interrupt{}, ErrNotFound
	}
	if err != nil {
		return Interrupt{}, fmt.Errorf("failed to load interrupt: %w", err)
	}

	if err := json.Unmarshal([]byte(payloadJSON), &token.Payload); err != nil {
		return Interrupt{}, fmt.Errorf("failed to unmarshal interrupt payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Interrupt{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	token.CreatedAt = ts
	return token, nil
}

// ConsumeInterrupt atomically takes the pending token: the delete inside the
// transaction guarantees a second consume sees ErrNotFound.
func (s *SQLiteStore[S]) ConsumeInterrupt(ctx context.Context, runID string) (Interrupt, error) {
	if err := s.guard(); err != nil {
		return Interrupt{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Interrupt{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	token, err := readInterrupt(ctx, tx, runID)
	if err != nil {
		return Interrupt{}, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM run_interrupts WHERE run_id = ?", runID); err != nil {
		return Interrupt{}, fmt.Errorf("failed to consume interrupt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Interrupt{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return token, nil
}

// DeleteRun removes the run's checkpoints and any pending token.
func (s *SQLiteStore[S]) DeleteRun(ctx context.Context, runID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM run_checkpoints WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted checkpoints: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM run_interrupts WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete interrupt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection. Double-close is a no-op.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}
