package flow

import (
	"context"
	"time"

	"github.com/dealgraph/dealgraph/flow/emit"
	"github.com/dealgraph/dealgraph/flow/store"
)

// Status is the lifecycle state of a run after a scheduling pass.
type Status int

const (
	// StatusRunning means steps are still executing. Callers never observe it
	// in a Result; it exists for status queries while a pass is in flight.
	StatusRunning Status = iota

	// StatusSuspended means the run checkpointed mid-execution and is waiting
	// on external input. Continue it with Resume.
	StatusSuspended

	// StatusCompleted means the run routed to End.
	StatusCompleted

	// StatusFailed means a step, router, or merge faulted. The run's
	// checkpoint log is intact up to the last successful step.
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result summarizes one scheduling pass: a Start, Resume, or Replay call from
// where it picked up to where it stopped.
type Result struct {
	// RunID identifies the run.
	RunID string

	// Status is the run's state when the pass stopped.
	Status Status

	// State is the run's state at the stopping point.
	State Values

	// Payload is the suspension payload when Status is StatusSuspended.
	Payload any

	// Err is the fault when Status is StatusFailed.
	Err error

	// Seq is the run's latest checkpoint sequence number.
	Seq int

	// Steps is how many step invocations this pass performed.
	Steps int
}

// scheduler drives the super-step loop for a single run at a time. It owns no
// locks; the Runner serializes passes per run id before calling it.
type scheduler struct {
	graph    *Graph
	store    store.Store[Values]
	emitter  emit.Emitter
	metrics  *Metrics
	maxSteps int
}

// pass is the resolved starting point of one scheduling pass.
type pass struct {
	runID    string
	state    Values
	cursor   string
	seq      int
	resume   any
	resuming bool
}

// run executes steps from the pass's cursor until the run completes, suspends,
// or fails. Each successful step follows the same strict order: invoke, merge
// the delta, resolve the outgoing edge against post-merge state, append the
// checkpoint, then emit the step event. A checkpoint therefore always records
// the cursor to execute next, and an emitted event is always backed by a
// persisted checkpoint.
func (s *scheduler) run(ctx context.Context, p pass) Result {
	s.metrics.runStarted()
	defer s.metrics.runStopped()

	state := p.state
	cursor := p.cursor
	seq := p.seq
	resume, resuming := p.resume, p.resuming
	executed := 0

	for cursor != End {
		if err := ctx.Err(); err != nil {
			return s.fail(p.runID, state, cursor, seq, executed, err)
		}
		if s.maxSteps > 0 && executed >= s.maxSteps {
			return s.fail(p.runID, state, cursor, seq, executed, ErrMaxStepsExceeded)
		}

		fn, ok := s.graph.step(cursor)
		if !ok {
			return s.fail(p.runID, state, cursor, seq, executed,
				&GraphError{Message: "cursor names unregistered step " + cursor})
		}

		executed++
		started := time.Now()
		out := invoke(ctx, cursor, fn, Input{State: state, Resume: resume, Resuming: resuming})
		elapsed := time.Since(started)

		// A resume value is visible to exactly one invocation.
		resume, resuming = nil, false

		if err := out.Err(); err != nil {
			s.metrics.observeStep(cursor, "error", elapsed)
			return s.fail(p.runID, state, cursor, seq, executed, err)
		}

		if payload, suspended := out.Suspension(); suspended {
			s.metrics.observeStep(cursor, "suspended", elapsed)
			return s.suspend(ctx, p.runID, state, cursor, seq, executed, payload)
		}

		delta, _ := out.Delta()
		merged, err := s.graph.schema.Merge(state, delta)
		if err != nil {
			s.metrics.observeStep(cursor, "error", elapsed)
			return s.fail(p.runID, state, cursor, seq, executed, &StepError{Step: cursor, Err: err})
		}
		state = merged

		next, err := s.graph.next(cursor, state)
		if err != nil {
			// Routing faults leave no checkpoint: the step's delta was merged
			// in memory only, and the run's last durable state predates it.
			s.metrics.observeStep(cursor, "error", elapsed)
			return s.fail(p.runID, state, cursor, seq, executed, err)
		}

		seq++
		if err := s.checkpoint(ctx, p.runID, seq, next, state, false); err != nil {
			s.metrics.observeStep(cursor, "error", elapsed)
			return s.fail(p.runID, state, cursor, seq-1, executed, err)
		}

		s.metrics.observeStep(cursor, "success", elapsed)
		s.emitter.Emit(emit.Event{
			RunID:     p.runID,
			Seq:       seq,
			Step:      cursor,
			Kind:      emit.KindStep,
			Channels:  map[string]any(delta),
			EmittedAt: time.Now(),
		})

		cursor = next
	}

	s.emitter.Emit(emit.Event{
		RunID:     p.runID,
		Seq:       seq,
		Kind:      emit.KindDone,
		Channels:  map[string]any(state),
		EmittedAt: time.Now(),
	})
	return Result{RunID: p.runID, Status: StatusCompleted, State: state, Seq: seq, Steps: executed}
}

// suspend writes the pending checkpoint at the suspended step's own cursor,
// records the interrupt token, and emits the suspended event.
func (s *scheduler) suspend(ctx context.Context, runID string, state Values, cursor string, seq, executed int, payload any) Result {
	seq++
	if err := s.checkpoint(ctx, runID, seq, cursor, state, true); err != nil {
		return s.fail(runID, state, cursor, seq-1, executed, err)
	}

	token := store.Interrupt{
		RunID:     runID,
		Step:      cursor,
		Seq:       seq,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveInterrupt(ctx, token); err != nil {
		return s.fail(runID, state, cursor, seq, executed, err)
	}

	s.metrics.suspended()
	s.emitter.Emit(emit.Event{
		RunID:     runID,
		Seq:       seq,
		Step:      cursor,
		Kind:      emit.KindSuspended,
		Payload:   payload,
		EmittedAt: time.Now(),
	})
	return Result{RunID: runID, Status: StatusSuspended, State: state, Payload: payload, Seq: seq, Steps: executed}
}

// checkpoint snapshots state and appends it to the run's log.
func (s *scheduler) checkpoint(ctx context.Context, runID string, seq int, cursor string, state Values, pending bool) error {
	snap, err := Snapshot(state)
	if err != nil {
		return err
	}
	if err := s.store.Append(ctx, store.Checkpoint[Values]{
		RunID:     runID,
		Seq:       seq,
		Cursor:    cursor,
		State:     snap,
		Pending:   pending,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}
	s.metrics.checkpointed()
	return nil
}

// fail emits the terminal error event and returns the failed result.
func (s *scheduler) fail(runID string, state Values, cursor string, seq, executed int, err error) Result {
	s.emitter.Emit(emit.Event{
		RunID:     runID,
		Seq:       seq,
		Step:      cursor,
		Kind:      emit.KindError,
		Reason:    err.Error(),
		EmittedAt: time.Now(),
	})
	return Result{RunID: runID, Status: StatusFailed, State: state, Err: err, Seq: seq, Steps: executed}
}
