// Package emit publishes per-step progress events from workflow execution to
// live subscribers, structured logs, and traces. Emission is best-effort by
// contract: a slow or missing consumer never blocks or fails the scheduler.
package emit

import "time"

// Kind classifies an event.
type Kind string

const (
	// KindStep is emitted synchronously after a step's delta was merged and
	// its checkpoint written, before the next step begins. Subscribers
	// therefore observe step events in execution order.
	KindStep Kind = "step"

	// KindSuspended closes the stream when the run paused awaiting external
	// input; Payload carries the suspension payload.
	KindSuspended Kind = "suspended"

	// KindDone closes the stream when the run reached the terminal marker;
	// Channels carries a snapshot summary.
	KindDone Kind = "done"

	// KindError closes the stream when the run failed; Reason carries the
	// failure.
	KindError Kind = "error"
)

// Event is one observability record from a run.
type Event struct {
	// RunID identifies the run that produced this event.
	RunID string `json:"run_id"`

	// Seq is the checkpoint sequence number the event corresponds to. Error
	// events checkpoint nothing; their Seq is the last durable checkpoint's.
	Seq int `json:"seq"`

	// Step is the name of the step that executed. Empty for done events.
	Step string `json:"step,omitempty"`

	// Kind classifies the event.
	Kind Kind `json:"kind"`

	// Channels holds the relevant state channels: the step's delta for step
	// events, a final snapshot summary for done events.
	Channels map[string]any `json:"channels,omitempty"`

	// Payload is the suspension payload for suspended events.
	Payload any `json:"payload,omitempty"`

	// Reason is the failure description for error events.
	Reason string `json:"reason,omitempty"`

	// EmittedAt records when the event was published.
	EmittedAt time.Time `json:"emitted_at"`
}

// Terminal reports whether this event closes the run's stream.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindSuspended, KindDone, KindError:
		return true
	default:
		return false
	}
}
