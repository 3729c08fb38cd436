package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/dealgraph/dealgraph/flow/emit"
	"github.com/dealgraph/dealgraph/flow/store"
)

// Options configures a Runner. The zero value is usable.
type Options struct {
	// MaxSteps caps step invocations per scheduling pass, guarding cyclic
	// graphs against routers that never reach End. Zero selects the default
	// of 256; negative disables the cap.
	MaxSteps int

	// EventBuffer sizes each subscriber's event channel. Zero selects 64.
	EventBuffer int

	// Workers caps concurrently executing runs. Zero or negative means
	// unbounded.
	Workers int

	// Emitter receives every event in addition to stream subscribers, e.g. a
	// ZapEmitter or OTelEmitter. Nil means stream-only.
	Emitter emit.Emitter

	// Metrics enables Prometheus instrumentation. Nil disables it.
	Metrics *Metrics
}

const defaultMaxSteps = 256

// Runner is the run manager: it owns run identity and lifecycle over one
// compiled graph and one store. Operations on the same run id are serialized;
// distinct runs execute concurrently on a worker pool.
//
//	st := store.NewMemStore[flow.Values]()
//	runner, err := flow.NewRunner(graph, st, flow.Options{})
//	defer runner.Close()
//
//	events, err := runner.Start(ctx, runID, flow.Delta{"user_input": text})
//	for event := range events { ... }
type Runner struct {
	graph  *Graph
	store  store.Store[Values]
	stream *emit.Stream
	sched  *scheduler
	pool   *ants.Pool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner creates a Runner over a compiled graph and a checkpoint store.
func NewRunner(graph *Graph, st store.Store[Values], opts Options) (*Runner, error) {
	if graph == nil {
		return nil, &GraphError{Message: "runner requires a compiled graph"}
	}
	if st == nil {
		return nil, fmt.Errorf("runner requires a store")
	}

	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = defaultMaxSteps
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = -1 // unbounded pool
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	stream := emit.NewStream(opts.EventBuffer)
	var emitter emit.Emitter = stream
	if opts.Emitter != nil {
		emitter = emit.Multi{stream, opts.Emitter}
	}

	return &Runner{
		graph:  graph,
		store:  st,
		stream: stream,
		sched: &scheduler{
			graph:    graph,
			store:    st,
			emitter:  emitter,
			metrics:  opts.Metrics,
			maxSteps: maxSteps,
		},
		pool:  pool,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// NewRunID returns a fresh unique run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Close releases the worker pool. In-flight runs finish; new submissions fail.
func (r *Runner) Close() {
	r.pool.Release()
}

// lockFor returns the mutex serializing operations on one run id.
func (r *Runner) lockFor(runID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[runID] = lock
	}
	return lock
}

// Start begins a new run, or drives an existing non-suspended run forward from
// its latest checkpoint, and returns its live event stream. The channel closes
// after the terminal event. initial is merged into the run's state before the
// first step.
//
// Starting a suspended run returns ErrRunSuspended: pending external input is
// answered with Resume, never papered over by a fresh Start.
func (r *Runner) Start(ctx context.Context, runID string, initial Delta) (<-chan emit.Event, error) {
	lock := r.lockFor(runID)
	lock.Lock()

	p, err := r.prepareStart(ctx, runID, initial)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return r.dispatch(lock, p)
}

// Run is the synchronous form of Start, returning the pass's Result. Handy
// for tests and batch drivers that do not consume the stream.
func (r *Runner) Run(ctx context.Context, runID string, initial Delta) (Result, error) {
	lock := r.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	p, err := r.prepareStart(ctx, runID, initial)
	if err != nil {
		return Result{}, err
	}
	return r.sched.run(ctx, p), nil
}

func (r *Runner) prepareStart(ctx context.Context, runID string, initial Delta) (pass, error) {
	if runID == "" {
		return pass{}, fmt.Errorf("run id cannot be empty")
	}

	if _, err := r.store.PendingInterrupt(ctx, runID); err == nil {
		return pass{}, fmt.Errorf("run %q: %w", runID, ErrRunSuspended)
	} else if !errors.Is(err, store.ErrNotFound) {
		return pass{}, err
	}

	state := Values{}
	cursor := r.graph.start
	seq := 0

	latest, err := r.store.Latest(ctx, runID)
	switch {
	case err == nil:
		state = latest.State
		cursor = latest.Cursor
		seq = latest.Seq
	case errors.Is(err, store.ErrNotFound):
		// New run: the initial delta is merged in memory and becomes durable
		// with the first step's checkpoint.
	default:
		return pass{}, err
	}

	if len(initial) > 0 {
		state, err = r.graph.schema.Merge(state, initial)
		if err != nil {
			return pass{}, err
		}
	}

	return pass{runID: runID, state: state, cursor: cursor, seq: seq}, nil
}

// Resume answers a suspended run with an external value and returns the run's
// live event stream. The pending interrupt token is consumed before execution
// resumes, so a token answers exactly one resume even if the re-invoked step
// later fails.
//
// Returns ErrUnknownRun for an unknown run id and ErrNoPendingInterrupt when
// the run has no pending suspension.
func (r *Runner) Resume(ctx context.Context, runID string, value any) (<-chan emit.Event, error) {
	lock := r.lockFor(runID)
	lock.Lock()

	p, err := r.prepareResume(ctx, runID, value)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return r.dispatch(lock, p)
}

// ResumeWait is the synchronous form of Resume.
func (r *Runner) ResumeWait(ctx context.Context, runID string, value any) (Result, error) {
	lock := r.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	p, err := r.prepareResume(ctx, runID, value)
	if err != nil {
		return Result{}, err
	}
	return r.sched.run(ctx, p), nil
}

func (r *Runner) prepareResume(ctx context.Context, runID string, value any) (pass, error) {
	token, err := r.store.ConsumeInterrupt(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		if _, histErr := r.store.Latest(ctx, runID); errors.Is(histErr, store.ErrNotFound) {
			return pass{}, fmt.Errorf("run %q: %w", runID, ErrUnknownRun)
		}
		return pass{}, fmt.Errorf("run %q: %w", runID, ErrNoPendingInterrupt)
	}
	if err != nil {
		return pass{}, err
	}

	latest, err := r.store.Latest(ctx, runID)
	if err != nil {
		return pass{}, err
	}

	r.sched.metrics.resumed()
	return pass{
		runID:    runID,
		state:    latest.State,
		cursor:   token.Step,
		seq:      latest.Seq,
		resume:   value,
		resuming: true,
	}, nil
}

// Predicate selects a checkpoint by its state snapshot during replay.
type Predicate func(state Values) bool

// Replay branches a new run from a historical checkpoint of an existing run:
// the oldest checkpoint whose snapshot satisfies pred. The branch gets a fresh
// run id and its own log starting at seq 1 (a seed checkpoint holding the
// matched snapshot merged with initial), then executes forward from the
// matched cursor. The source run's history is never modified.
//
// Returns the branch run id and its live event stream, ErrUnknownRun for an
// unknown source run, and ErrNoMatchingCheckpoint when pred matches nothing.
func (r *Runner) Replay(ctx context.Context, runID string, pred Predicate, initial Delta) (string, <-chan emit.Event, error) {
	branchID, p, err := r.prepareReplay(ctx, runID, pred, initial)
	if err != nil {
		return "", nil, err
	}

	lock := r.lockFor(branchID)
	lock.Lock()
	events, err := r.dispatch(lock, p)
	if err != nil {
		return "", nil, err
	}
	return branchID, events, nil
}

// ReplayWait is the synchronous form of Replay.
func (r *Runner) ReplayWait(ctx context.Context, runID string, pred Predicate, initial Delta) (string, Result, error) {
	branchID, p, err := r.prepareReplay(ctx, runID, pred, initial)
	if err != nil {
		return "", Result{}, err
	}

	lock := r.lockFor(branchID)
	lock.Lock()
	defer lock.Unlock()
	return branchID, r.sched.run(ctx, p), nil
}

func (r *Runner) prepareReplay(ctx context.Context, runID string, pred Predicate, initial Delta) (string, pass, error) {
	if pred == nil {
		return "", pass{}, fmt.Errorf("replay predicate cannot be nil")
	}

	history, err := r.store.History(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return "", pass{}, fmt.Errorf("run %q: %w", runID, ErrUnknownRun)
	}
	if err != nil {
		return "", pass{}, err
	}

	var matched *store.Checkpoint[Values]
	for i := range history {
		if pred(history[i].State) {
			matched = &history[i]
			break
		}
	}
	if matched == nil {
		return "", pass{}, fmt.Errorf("run %q: %w", runID, ErrNoMatchingCheckpoint)
	}

	state := matched.State
	if len(initial) > 0 {
		state, err = r.graph.schema.Merge(state, initial)
		if err != nil {
			return "", pass{}, err
		}
	}

	branchID := NewRunID()
	if err := r.sched.checkpoint(ctx, branchID, 1, matched.Cursor, state, false); err != nil {
		return "", pass{}, err
	}
	r.sched.metrics.replayed()

	return branchID, pass{
		runID:  branchID,
		state:  state,
		cursor: matched.Cursor,
		seq:    1,
	}, nil
}

// dispatch subscribes to the pass's run and schedules it on the pool. The
// caller holds the run's lock; the worker releases it when the pass finishes.
func (r *Runner) dispatch(lock *sync.Mutex, p pass) (<-chan emit.Event, error) {
	events, cancel := r.stream.Subscribe(p.runID)

	submit := r.pool.Submit(func() {
		defer lock.Unlock()
		// Detached from the caller's context: the run outlives the request
		// that started it.
		r.sched.run(context.Background(), p)
	})
	if submit != nil {
		cancel()
		lock.Unlock()
		return nil, fmt.Errorf("failed to schedule run %q: %w", p.runID, submit)
	}
	return events, nil
}

// State returns a snapshot of the run's latest checkpointed state.
func (r *Runner) State(ctx context.Context, runID string) (Values, error) {
	latest, err := r.store.Latest(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("run %q: %w", runID, ErrUnknownRun)
	}
	if err != nil {
		return nil, err
	}
	return Snapshot(latest.State)
}

// History returns the run's full checkpoint log, oldest first.
func (r *Runner) History(ctx context.Context, runID string) ([]store.Checkpoint[Values], error) {
	history, err := r.store.History(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("run %q: %w", runID, ErrUnknownRun)
	}
	return history, err
}

// Pending returns the run's pending interrupt token without consuming it, so
// callers can render the suspension payload (for example the question the
// workflow is waiting on). Returns ErrNoPendingInterrupt when none is pending.
func (r *Runner) Pending(ctx context.Context, runID string) (store.Interrupt, error) {
	token, err := r.store.PendingInterrupt(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		if _, histErr := r.store.Latest(ctx, runID); errors.Is(histErr, store.ErrNotFound) {
			return store.Interrupt{}, fmt.Errorf("run %q: %w", runID, ErrUnknownRun)
		}
		return store.Interrupt{}, fmt.Errorf("run %q: %w", runID, ErrNoPendingInterrupt)
	}
	return token, err
}

// Subscribe attaches an additional live event subscription to a run. Useful
// for observers other than the caller that started the run.
func (r *Runner) Subscribe(runID string) (<-chan emit.Event, func()) {
	return r.stream.Subscribe(runID)
}

// Delete removes the run's checkpoint log and any pending interrupt token.
// Resume and Replay against the run fail afterwards with ErrUnknownRun.
func (r *Runner) Delete(ctx context.Context, runID string) error {
	lock := r.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	err := r.store.DeleteRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("run %q: %w", runID, ErrUnknownRun)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.locks, runID)
	r.mu.Unlock()
	return nil
}
