package emit

import "sync"

// Stream is the live progress tap: it fans events out to per-run
// subscriptions. Delivery is ordered per run (events are published
// synchronously from the scheduler) and strictly best-effort — a subscriber
// that stops draining its channel loses events rather than back-pressuring
// execution.
//
// A terminal event (done, suspended, error) closes every subscription for
// that run.
type Stream struct {
	mu      sync.Mutex
	subs    map[string][]*subscription // runID -> subscribers
	buffer  int
	dropped uint64
}

type subscription struct {
	ch     chan Event
	closed bool
}

// NewStream creates a stream whose subscriber channels buffer up to buffer
// events; zero or negative selects the default of 64.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{
		subs:   make(map[string][]*subscription),
		buffer: buffer,
	}
}

// Subscribe registers a subscription for one run and returns its channel plus
// a cancel function. The channel closes after a terminal event or after
// cancel; cancel after close is a no-op.
func (s *Stream) Subscribe(runID string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, s.buffer)}

	s.mu.Lock()
	s.subs[runID] = append(s.subs[runID], sub)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.detach(runID, sub)
	}
	return sub.ch, cancel
}

// detach removes sub from the run's list and closes it; caller holds the
// lock. Closing is guarded so a cancelled-then-terminated subscription never
// double-closes.
func (s *Stream) detach(runID string, sub *subscription) {
	subs := s.subs[runID]
	for i, candidate := range subs {
		if candidate == sub {
			s.subs[runID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subs[runID]) == 0 {
		delete(s.subs, runID)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Emit delivers the event to the run's subscribers without blocking: a full
// subscriber channel drops the event. Terminal events close and detach all of
// the run's subscriptions after delivery.
func (s *Stream) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subs[event.RunID]
	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			s.dropped++
		}
	}

	if event.Terminal() {
		for _, sub := range subs {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		delete(s.subs, event.RunID)
	}
}

// Dropped returns how many events were discarded due to slow subscribers.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
