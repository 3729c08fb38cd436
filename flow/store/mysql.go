package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed Store for production deployments where
// multiple processes share one checkpoint log.
//
// The schema mirrors the SQLite store: an append-only run_checkpoints table
// with UNIQUE(run_id, seq) and a run_interrupts table keyed by run id.
// Sequence enforcement and token consumption use transactions with row locks
// so that concurrent writers cannot break the gapless invariant.
//
// Type parameter S is the state snapshot type (must be JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store using a DSN like
// "user:pass@tcp(localhost:3306)/dealgraph?parseTime=true". The required
// tables are created if they don't exist.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore[S]) createTables(ctx context.Context) error {
	checkpoints := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(191) NOT NULL,
			seq INT NOT NULL,
			cursor_step VARCHAR(191) NOT NULL,
			state JSON NOT NULL,
			pending TINYINT(1) NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uniq_run_seq (run_id, seq),
			KEY idx_run (run_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("failed to create run_checkpoints table: %w", err)
	}

	interrupts := `
		CREATE TABLE IF NOT EXISTS run_interrupts (
			run_id VARCHAR(191) NOT NULL PRIMARY KEY,
			step VARCHAR(191) NOT NULL,
			seq INT NOT NULL,
			payload JSON NOT NULL,
			created_at DATETIME(6) NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, interrupts); err != nil {
		return fmt.Errorf("failed to create run_interrupts table: %w", err)
	}
	return nil
}

func (s *MySQLStore[S]) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Append adds a checkpoint. The latest sequence is read FOR UPDATE so that
// two concurrent appends to the same run serialize on the row lock.
func (s *MySQLStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
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
		"SELECT MAX(seq) FROM run_checkpoints WHERE run_id = ? FOR UPDATE", cp.RunID,
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
		INSERT INTO run_checkpoints (run_id, seq, cursor_step, state, pending, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cp.RunID, cp.Seq, cp.Cursor, string(stateJSON), pending, cp.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// History returns the run's checkpoints ordered by seq.
func (s *MySQLStore[S]) History(ctx context.Context, runID string) ([]Checkpoint[S], error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, cursor_step, state, pending, created_at
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
		var (
			cp        Checkpoint[S]
			stateJSON string
			pending   int
		)
		if err := rows.Scan(&cp.RunID, &cp.Seq, &cp.Cursor, &stateJSON, &pending, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		cp.Pending = pending != 0
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
func (s *MySQLStore[S]) Latest(ctx context.Context, runID string) (Checkpoint[S], error) {
	var zero Checkpoint[S]
	if err := s.guard(); err != nil {
		return zero, err
	}

	var (
		cp        Checkpoint[S]
		stateJSON string
		pending   int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, seq, cursor_step, state, pending, created_at
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, runID).Scan(&cp.RunID, &cp.Seq, &cp.Cursor, &stateJSON, &pending, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	cp.Pending = pending != 0
	return cp, nil
}

// SaveInterrupt records a pending token; the primary key rejects a second
// pending token for the same run.
func (s *MySQLStore[S]) SaveInterrupt(ctx context.Context, token Interrupt) error {
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
	`, token.RunID, token.Step, token.Seq, string(payloadJSON), token.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save interrupt: %w", err)
	}
	return nil
}

// PendingInterrupt returns the pending token without consuming it.
func (s *MySQLStore[S]) PendingInterrupt(ctx context.Context, runID string) (Interrupt, error) {
	if err := s.guard(); err != nil {
		return Interrupt{}, err
	}
	return s.scanInterrupt(s.db.QueryRowContext(ctx, `
		SELECT run_id, step, seq, payload, created_at
		FROM run_interrupts
		WHERE run_id = ?
	`, runID))
}

func (s *MySQLStore[S]) scanInterrupt(row *sql.Row) (Interrupt, error) {
	var (
		token       Interrupt
		payloadJSON string
	)
	err := row.Scan(&token.RunID, &token.Step, &token.Seq, &payloadJSON, &token.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Interrupt{}, ErrNotFound
	}
	if err != nil {
		return Interrupt{}, fmt.Errorf("failed to load interrupt: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &token.Payload); err != nil {
		return Interrupt{}, fmt.Errorf("failed to unmarshal interrupt payload: %w", err)
	}
	return token, nil
}

// ConsumeInterrupt atomically takes the pending token using a row lock.
func (s *MySQLStore[S]) ConsumeInterrupt(ctx context.Context, runID string) (Interrupt, error) {
	if err := s.guard(); err != nil {
		return Interrupt{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Interrupt{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	token, err := s.scanInterrupt(tx.QueryRowContext(ctx, `
		SELECT run_id, step, seq, payload, created_at
		FROM run_interrupts
		WHERE run_id = ?
		FOR UPDATE
	`, runID))
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
func (s *MySQLStore[S]) DeleteRun(ctx context.Context, runID string) error {
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
func (s *MySQLStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}
