package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/dealgraph/dealgraph/flow/emit"
	"github.com/dealgraph/dealgraph/flow/store"
)

// traceStep appends its name to the trace channel and writes status.
func traceStep(name string) StepFunc {
	return func(_ context.Context, _ Input) Outcome {
		return Update(Delta{"trace": []any{name}, "status": name})
	}
}

func traceSchema() *Schema {
	return NewSchema().AppendChannel("trace").Channel("status").Channel("input")
}

// linearGraph builds a -> b -> c -> End over the trace schema.
func linearGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder(traceSchema())
	b.AddStep("a", traceStep("a"))
	b.AddStep("b", traceStep("b"))
	b.AddStep("c", traceStep("c"))
	b.AddEdge("a", "b")
	b.AddEdge("b", "c")
	b.AddEdge("c", End)
	b.StartAt("a")

	g, err := b.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return g
}

func newTestRunner(t *testing.T, g *Graph, opts Options) (*Runner, *store.MemStore[Values], *emit.Buffered) {
	t.Helper()
	st := store.NewMemStore[Values]()
	buf := emit.NewBuffered()
	opts.Emitter = buf

	r, err := NewRunner(g, st, opts)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(r.Close)
	return r, st, buf
}

func TestSchedulerLinearRun(t *testing.T) {
	r, st, buf := newTestRunner(t, linearGraph(t), Options{})
	ctx := context.Background()

	result, err := r.Run(ctx, "run-1", Delta{"input": "go"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %v (err=%v)", result.Status, result.Err)
	}
	if result.Steps != 3 {
		t.Errorf("expected 3 steps, got %d", result.Steps)
	}

	trace, _ := result.State["trace"].([]any)
	if len(trace) != 3 || trace[0] != "a" || trace[1] != "b" || trace[2] != "c" {
		t.Errorf("unexpected trace: %v", trace)
	}

	history, err := st.History(ctx, "run-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(history))
	}
	wantCursors := []string{"b", "c", End}
	for i, cp := range history {
		if cp.Seq != i+1 {
			t.Errorf("checkpoint %d: seq %d, want %d", i, cp.Seq, i+1)
		}
		if cp.Cursor != wantCursors[i] {
			t.Errorf("checkpoint %d: cursor %q, want %q", i, cp.Cursor, wantCursors[i])
		}
		if cp.Pending {
			t.Errorf("checkpoint %d unexpectedly pending", i)
		}
	}
	// The initial delta is durable from the first checkpoint on.
	if history[0].State["input"] != "go" {
		t.Errorf("first checkpoint missing initial delta: %v", history[0].State)
	}

	steps := buf.Steps("run-1")
	if len(steps) != 3 || steps[0] != "a" || steps[2] != "c" {
		t.Errorf("unexpected step events: %v", steps)
	}
	events := buf.History("run-1")
	last := events[len(events)-1]
	if last.Kind != emit.KindDone {
		t.Errorf("expected terminal done event, got %v", last.Kind)
	}
	if last.Channels["status"] != "c" {
		t.Errorf("done event summary missing final state: %v", last.Channels)
	}
}

func TestSchedulerStepFailure(t *testing.T) {
	boom := errors.New("boom")

	b := NewBuilder(traceSchema())
	b.AddStep("ok", traceStep("ok"))
	b.AddStep("bad", func(_ context.Context, _ Input) Outcome {
		return Fail(boom)
	})
	b.AddEdge("ok", "bad")
	b.AddEdge("bad", End)
	b.StartAt("ok")
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	r, st, buf := newTestRunner(t, g, Options{})
	ctx := context.Background()

	result, err := r.Run(ctx, "run-f", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %v", result.Status)
	}

	var stepErr *StepError
	if !errors.As(result.Err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", result.Err)
	}
	if stepErr.Step != "bad" || !errors.Is(result.Err, boom) {
		t.Errorf("unexpected failure attribution: %+v", stepErr)
	}

	// Only the successful step checkpointed.
	history, err := st.History(ctx, "run-f")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Cursor != "bad" {
		t.Errorf("unexpected history after failure: %+v", history)
	}

	events := buf.History("run-f")
	last := events[len(events)-1]
	if last.Kind != emit.KindError || last.Reason == "" {
		t.Errorf("expected terminal error event with reason, got %+v", last)
	}
}

func TestSchedulerPanicBecomesStepError(t *testing.T) {
	b := NewBuilder(traceSchema())
	b.AddStep("explode", func(_ context.Context, _ Input) Outcome {
		panic("kaboom")
	})
	b.AddEdge("explode", End)
	b.StartAt("explode")
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	r, _, _ := newTestRunner(t, g, Options{})

	result, err := r.Run(context.Background(), "run-p", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var stepErr *StepError
	if !errors.As(result.Err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", result.Err)
	}
	if stepErr.Step != "explode" {
		t.Errorf("expected panic attributed to 'explode', got %q", stepErr.Step)
	}
}

func TestSchedulerRoutingFailure(t *testing.T) {
	b := NewBuilder(traceSchema())
	b.AddStep("decide", traceStep("decide"))
	b.AddStep("next", traceStep("next"))
	b.AddConditionalEdge("decide", func(Values) string { return "undeclared" }, map[string]string{
		"go": "next",
	})
	b.AddEdge("next", End)
	b.StartAt("decide")
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	r, st, _ := newTestRunner(t, g, Options{})

	result, err := r.Run(context.Background(), "run-r", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var routingErr *RoutingError
	if !errors.As(result.Err, &routingErr) {
		t.Fatalf("expected *RoutingError, got %v", result.Err)
	}

	// Routing faults checkpoint nothing: the run has no durable state at all.
	if _, err := st.History(context.Background(), "run-r"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected empty history after routing fault, got err=%v", err)
	}
}

func TestSchedulerUnknownChannelDelta(t *testing.T) {
	b := NewBuilder(traceSchema())
	b.AddStep("rogue", func(_ context.Context, _ Input) Outcome {
		return Update(Delta{"undeclared": 1})
	})
	b.AddEdge("rogue", End)
	b.StartAt("rogue")
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	r, _, _ := newTestRunner(t, g, Options{})

	result, err := r.Run(context.Background(), "run-u", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %v", result.Status)
	}
	var unknownErr *UnknownChannelError
	if !errors.As(result.Err, &unknownErr) {
		t.Fatalf("expected *UnknownChannelError in chain, got %v", result.Err)
	}
}

func TestSchedulerMaxSteps(t *testing.T) {
	b := NewBuilder(traceSchema())
	b.AddStep("loop", traceStep("loop"))
	b.AddConditionalEdge("loop", func(Values) string { return "again" }, map[string]string{
		"again": "loop",
		"stop":  End,
	})
	b.StartAt("loop")
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	r, _, _ := newTestRunner(t, g, Options{MaxSteps: 5})

	result, err := r.Run(context.Background(), "run-loop", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !errors.Is(result.Err, ErrMaxStepsExceeded) {
		t.Fatalf("expected ErrMaxStepsExceeded, got %v", result.Err)
	}
	if result.Steps != 5 {
		t.Errorf("expected 5 executed steps, got %d", result.Steps)
	}
}

func TestSchedulerContextCancellation(t *testing.T) {
	r, _, _ := newTestRunner(t, linearGraph(t), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Run(ctx, "run-c", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusFailed || !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected canceled failure, got %v (%v)", result.Status, result.Err)
	}
}
