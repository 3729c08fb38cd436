package flow

import (
	"context"
	"errors"
	"fmt"
)

// invoke executes one step as a single atomic attempt and classifies the
// result. Panics become *StepError outcomes rather than tearing down the
// scheduler, and plain step errors are wrapped so failures always carry the
// step name. The engine never retries here; retry against an LLM or tool
// belongs inside the step that calls it.
func invoke(ctx context.Context, name string, fn StepFunc, in Input) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Fail(&StepError{Step: name, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	out = fn(ctx, in)

	if err := out.Err(); err != nil {
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			out = Fail(&StepError{Step: name, Err: err})
		}
	}
	return out
}
