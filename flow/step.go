package flow

import "context"

// Input carries everything a step sees for one invocation.
//
// State is a read view of the run's current channel values. Steps must treat
// it as immutable and report changes through the returned delta; the engine
// never applies in-place mutations.
//
// Resume is non-nil only when the step is re-invoked after a suspension was
// answered: it holds the externally supplied value the step was waiting for.
// A step that suspends must be written to distinguish the two phases itself —
// first call, Resuming is false, return Suspend; second call, Resuming is
// true, consume Resume and return a normal delta. The engine enforces
// token-consumption exactly-once semantics but not this per-step protocol.
type Input struct {
	State    Values
	Resume   any
	Resuming bool
}

// Get returns a channel value from the step's state view.
func (in Input) Get(channel string) (any, bool) {
	v, ok := in.State[channel]
	return v, ok
}

// GetString returns a channel value as a string, or "" if the channel is
// absent or holds a different type.
func (in Input) GetString(channel string) string {
	s, _ := in.State[channel].(string)
	return s
}

// StepFunc is a single workflow step: classify, extract, quote, call a tool —
// the engine does not care. From its point of view a step is a function from
// state to exactly one of three outcomes: a delta to merge, a suspension
// awaiting external input, or an error.
//
// Steps may perform arbitrary I/O, but any side effect triggered before a
// suspension must be safe to re-trigger on resume; that idempotency is the
// step author's responsibility, not the engine's.
type StepFunc func(ctx context.Context, in Input) Outcome

// RouterFunc selects the next step name after a conditional edge, evaluated
// against post-merge state. Routers must be total and side-effect-free: for
// every reachable state they return one of the edge's declared targets
// (possibly End). Anything else fails the run with *RoutingError.
type RouterFunc func(state Values) string

// Outcome is the tagged result of a step invocation. Construct it with
// Update, Suspend, or Fail; zero value is an empty delta.
type Outcome struct {
	delta   Delta
	payload any
	suspend bool
	err     error
}

// Update returns an outcome that merges the delta into the run's state.
func Update(delta Delta) Outcome {
	return Outcome{delta: delta}
}

// Suspend returns an outcome that pauses the run and surfaces payload to the
// caller. The run checkpoints at the current cursor with a pending interrupt
// token; a later Resume re-invokes this step with the external value.
func Suspend(payload any) Outcome {
	return Outcome{payload: payload, suspend: true}
}

// Fail returns an outcome that fails the run with err.
func Fail(err error) Outcome {
	return Outcome{err: err}
}

// Delta returns the state update for a normal completion.
func (o Outcome) Delta() (Delta, bool) {
	if o.suspend || o.err != nil {
		return nil, false
	}
	if o.delta == nil {
		return Delta{}, true
	}
	return o.delta, true
}

// Suspension returns the payload when the step suspended.
func (o Outcome) Suspension() (any, bool) {
	return o.payload, o.suspend
}

// Err returns the step's error, if any.
func (o Outcome) Err() error {
	return o.err
}
