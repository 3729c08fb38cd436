package flow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoPendingInterrupt is returned by Resume when the run has no pending
// interrupt token: the run was never suspended, or the token was already
// consumed by an earlier resume. Resuming twice must fail, not re-execute.
var ErrNoPendingInterrupt = errors.New("no pending interrupt")

// ErrNoMatchingCheckpoint is returned by Replay when the predicate matched no
// checkpoint in the run's history. Replay never silently falls back to the
// run's start.
var ErrNoMatchingCheckpoint = errors.New("no checkpoint matched predicate")

// ErrUnknownRun is returned when an operation references a run id with no
// state or checkpoint log.
var ErrUnknownRun = errors.New("unknown run")

// ErrRunSuspended is returned by Start when the run has a pending interrupt.
// A suspended run continues via Resume, never via Start.
var ErrRunSuspended = errors.New("run is suspended awaiting resume")

// ErrMaxStepsExceeded indicates the run reached the configured step limit
// without completing. Cycles are legal in these graphs, so the limit is the
// only guard against a router that never routes to End.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// RoutingError reports a conditional router that returned a target outside
// its declared set. This is a contract violation fatal to the run; the engine
// never default-routes around it.
type RoutingError struct {
	// Step is the step whose outgoing router misbehaved.
	Step string

	// Target is the undeclared name the router returned.
	Target string

	// Declared is the router's declared target set.
	Declared []string
}

func (e *RoutingError) Error() string {
	declared := make([]string, len(e.Declared))
	copy(declared, e.Declared)
	sort.Strings(declared)
	return fmt.Sprintf("routing: step %q routed to undeclared target %q (declared: %s)",
		e.Step, e.Target, strings.Join(declared, ", "))
}

// StepError reports a fault raised while invoking a step, including recovered
// panics. The run transitions to Failed; the engine does not retry, but the
// run remains re-drivable from its last good checkpoint.
type StepError struct {
	// Step is the step that faulted.
	Step string

	// Err is the underlying fault.
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

// Unwrap returns the underlying fault for errors.Is/As.
func (e *StepError) Unwrap() error {
	return e.Err
}

// UnknownChannelError reports a delta that touched a channel absent from the
// graph's declared schema.
type UnknownChannelError struct {
	Channel string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("channel %q is not declared in the schema", e.Channel)
}

// GraphError reports an invalid graph construction detected by Compile or by
// one of the builder methods.
type GraphError struct {
	Message string
}

func (e *GraphError) Error() string {
	return "graph: " + e.Message
}
