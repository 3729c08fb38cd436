package emit

// Emitter receives progress events from workflow execution.
//
// Implementations must be:
//   - Non-blocking: never slow down or fail the scheduler; buffer or drop.
//   - Thread-safe: distinct runs emit concurrently.
//   - Resilient: Emit must not panic; internal failures are logged, not
//     propagated.
type Emitter interface {
	Emit(event Event)
}

// Multi fans one event out to several emitters, e.g. a live stream plus a
// structured log.
type Multi []Emitter

// Emit forwards the event to every emitter in order.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}

// Null discards all events. Use it to disable emission without nil checks.
type Null struct{}

// Emit discards the event.
func (Null) Emit(Event) {}
