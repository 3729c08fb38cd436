// Package store persists checkpoint logs and pending interrupt tokens for
// workflow runs. The scheduler's contract is the same against every backend:
// an in-memory store for tests and single-process use, SQLite for durable
// local deployments, MySQL for production.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run id, checkpoint, or interrupt token does
// not exist.
var ErrNotFound = errors.New("not found")

// ErrSequenceGap is returned when an appended checkpoint would break the
// run's gapless, strictly increasing sequence.
var ErrSequenceGap = errors.New("checkpoint sequence gap")

// Checkpoint is an immutable record of a run after one successful step: the
// cursor to execute next and a full snapshot of state. Checkpoints for a run
// form a totally ordered, gapless sequence starting at 1.
//
// Type parameter S is the state snapshot type (the engine uses flow.Values).
type Checkpoint[S any] struct {
	// RunID identifies the run this checkpoint belongs to.
	RunID string `json:"run_id"`

	// Seq is the checkpoint's position in the run, starting at 1.
	Seq int `json:"seq"`

	// Cursor is the name of the step to execute next, or the terminal marker.
	// For a suspension checkpoint the cursor is the suspended step itself,
	// not yet advanced.
	Cursor string `json:"cursor"`

	// State is the full state snapshot after this step's delta was merged.
	State S `json:"state"`

	// Pending marks a suspension checkpoint: the run is waiting on external
	// input and an interrupt token exists for it.
	Pending bool `json:"pending"`

	// CreatedAt records when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// Interrupt is a one-time-consumable token representing a pending external
// input. It is created when a step suspends and destroyed on resume or run
// deletion; at most one token is pending per run.
type Interrupt struct {
	// RunID identifies the suspended run.
	RunID string `json:"run_id"`

	// Step is the suspended step, re-invoked on resume.
	Step string `json:"step"`

	// Seq is the sequence number of the suspension checkpoint.
	Seq int `json:"seq"`

	// Payload is the opaque, caller-interpretable value the step surfaced
	// (for example "awaiting supplier reply to the following message"). It
	// must be JSON-serializable for the durable backends.
	Payload any `json:"payload"`

	// CreatedAt records when the suspension happened.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence contract consumed by the scheduler and run
// manager. Implementations must be safe for concurrent use; the engine
// serializes operations per run id but distinct runs arrive concurrently.
type Store[S any] interface {
	// Append adds a checkpoint to the run's log. The checkpoint's Seq must be
	// exactly one past the run's latest (1 for a new run); anything else
	// returns ErrSequenceGap. Logs are append-only: existing entries are
	// never rewritten.
	Append(ctx context.Context, cp Checkpoint[S]) error

	// History returns the run's checkpoints ordered by Seq ascending.
	// Returns ErrNotFound for an unknown run id.
	History(ctx context.Context, runID string) ([]Checkpoint[S], error)

	// Latest returns the run's highest-Seq checkpoint.
	// Returns ErrNotFound for an unknown run id.
	Latest(ctx context.Context, runID string) (Checkpoint[S], error)

	// SaveInterrupt records a pending interrupt token for a run, replacing
	// nothing: saving while another token is pending is a caller bug and
	// returns an error.
	SaveInterrupt(ctx context.Context, token Interrupt) error

	// PendingInterrupt returns the run's pending token without consuming it.
	// Returns ErrNotFound if no suspension is pending.
	PendingInterrupt(ctx context.Context, runID string) (Interrupt, error)

	// ConsumeInterrupt atomically removes and returns the run's pending
	// token. A second consume returns ErrNotFound: tokens are consumed
	// exactly once.
	ConsumeInterrupt(ctx context.Context, runID string) (Interrupt, error)

	// DeleteRun removes the run's checkpoint log and any pending token,
	// invalidating future resume and replay. Returns ErrNotFound for an
	// unknown run id.
	DeleteRun(ctx context.Context, runID string) error
}
