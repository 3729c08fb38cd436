package emit

import "sync"

// Buffered stores every event in memory, organized by run id, and exposes
// query helpers. Useful for tests and post-execution analysis; it grows
// without bound, so production deployments should prefer Stream or ZapEmitter.
type Buffered struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBuffered creates an empty buffered emitter.
func NewBuffered() *Buffered {
	return &Buffered{events: make(map[string][]Event)}
}

// Emit appends the event to the run's history.
func (b *Buffered) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of the run's events in emission order.
func (b *Buffered) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Steps returns the step names of the run's step events, in order.
func (b *Buffered) Steps(runID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []string
	for _, event := range b.events[runID] {
		if event.Kind == KindStep {
			out = append(out, event.Step)
		}
	}
	return out
}

// Clear drops the run's history, or every run's when runID is empty.
func (b *Buffered) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
