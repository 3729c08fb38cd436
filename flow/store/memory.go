package store

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is the in-memory Store implementation.
//
// Designed for tests, development, and single-process deployments where the
// checkpoint log does not need to survive a restart. Thread-safe.
//
// Type parameter S is the state snapshot type.
type MemStore[S any] struct {
	mu         sync.RWMutex
	logs       map[string][]Checkpoint[S] // runID -> checkpoints ordered by Seq
	interrupts map[string]Interrupt       // runID -> pending token
}

// NewMemStore creates an empty in-memory store.
//
//	st := store.NewMemStore[flow.Values]()
//	runner := flow.NewRunner(graph, st, opts)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		logs:       make(map[string][]Checkpoint[S]),
		interrupts: make(map[string]Interrupt),
	}
}

// Append adds a checkpoint, enforcing the gapless sequence invariant.
func (m *MemStore[S]) Append(_ context.Context, cp Checkpoint[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logs[cp.RunID]
	want := len(log) + 1
	if cp.Seq != want {
		return fmt.Errorf("%w: run %q expected seq %d, got %d", ErrSequenceGap, cp.RunID, want, cp.Seq)
	}

	m.logs[cp.RunID] = append(log, cp)
	return nil
}

// History returns a copy of the run's checkpoint log.
func (m *MemStore[S]) History(_ context.Context, runID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.logs[runID]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]Checkpoint[S], len(log))
	copy(out, log)
	return out, nil
}

// Latest returns the run's most recent checkpoint.
func (m *MemStore[S]) Latest(_ context.Context, runID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.logs[runID]
	if !ok || len(log) == 0 {
		var zero Checkpoint[S]
		return zero, ErrNotFound
	}
	return log[len(log)-1], nil
}

// SaveInterrupt records a pending token; at most one per run.
func (m *MemStore[S]) SaveInterrupt(_ context.Context, token Interrupt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.interrupts[token.RunID]; exists {
		return fmt.Errorf("run %q already has a pending interrupt", token.RunID)
	}
	m.interrupts[token.RunID] = token
	return nil
}

// PendingInterrupt returns the pending token without consuming it.
func (m *MemStore[S]) PendingInterrupt(_ context.Context, runID string) (Interrupt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token, ok := m.interrupts[runID]
	if !ok {
		return Interrupt{}, ErrNotFound
	}
	return token, nil
}

// ConsumeInterrupt atomically takes the pending token.
func (m *MemStore[S]) ConsumeInterrupt(_ context.Context, runID string) (Interrupt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.interrupts[runID]
	if !ok {
		return Interrupt{}, ErrNotFound
	}
	delete(m.interrupts, runID)
	return token, nil
}

// DeleteRun removes the run's log and any pending token.
func (m *MemStore[S]) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.logs[runID]; !ok {
		return ErrNotFound
	}
	delete(m.logs, runID)
	delete(m.interrupts, runID)
	return nil
}
