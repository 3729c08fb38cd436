package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func noopStep(_ context.Context, _ Input) Outcome {
	return Update(Delta{})
}

func TestBuilderCompile(t *testing.T) {
	schema := NewSchema().Channel("status")

	t.Run("valid linear graph compiles", func(t *testing.T) {
		b := NewBuilder(schema)
		b.AddStep("a", noopStep)
		b.AddStep("b", noopStep)
		b.AddEdge("a", "b")
		b.AddEdge("b", End)
		b.StartAt("a")

		g, err := b.Compile()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if g.Start() != "a" {
			t.Errorf("expected start 'a', got %q", g.Start())
		}
	})

	t.Run("cycles are permitted", func(t *testing.T) {
		b := NewBuilder(schema)
		b.AddStep("draft", noopStep)
		b.AddStep("review", noopStep)
		b.AddEdge("draft", "review")
		b.AddConditionalEdge("review", func(Values) string { return "done" }, map[string]string{
			"redo": "draft",
			"done": End,
		})
		b.StartAt("draft")

		if _, err := b.Compile(); err != nil {
			t.Fatalf("cyclic graph should compile: %v", err)
		}
	})

	cases := []struct {
		name    string
		build   func(b *Builder)
		wantMsg string
	}{
		{
			name: "missing start",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddEdge("a", End)
			},
			wantMsg: "start step not set",
		},
		{
			name: "unregistered start",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddEdge("a", End)
				b.StartAt("ghost")
			},
			wantMsg: "not registered",
		},
		{
			name: "edge to unregistered step",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddEdge("a", "ghost")
				b.StartAt("a")
			},
			wantMsg: "unregistered step",
		},
		{
			name: "step without outgoing edge",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddStep("b", noopStep)
				b.AddEdge("a", "b")
				b.StartAt("a")
			},
			wantMsg: "no outgoing edge",
		},
		{
			name: "terminal unreachable",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddStep("b", noopStep)
				b.AddEdge("a", "b")
				b.AddEdge("b", "a")
				b.StartAt("a")
			},
			wantMsg: "no path from start",
		},
		{
			name: "duplicate step",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddStep("a", noopStep)
				b.AddEdge("a", End)
				b.StartAt("a")
			},
			wantMsg: "duplicate step",
		},
		{
			name: "second outgoing edge",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddEdge("a", End)
				b.AddEdge("a", End)
				b.StartAt("a")
			},
			wantMsg: "already has an outgoing edge",
		},
		{
			name: "reserved step name",
			build: func(b *Builder) {
				b.AddStep(End, noopStep)
			},
			wantMsg: "reserved",
		},
		{
			name: "empty conditional target set",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddConditionalEdge("a", func(Values) string { return "" }, nil)
				b.StartAt("a")
			},
			wantMsg: "non-empty target set",
		},
		{
			name: "conditional target unregistered",
			build: func(b *Builder) {
				b.AddStep("a", noopStep)
				b.AddConditionalEdge("a", func(Values) string { return "x" }, map[string]string{
					"x": "ghost",
				})
				b.StartAt("a")
			},
			wantMsg: "unregistered step",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder(schema)
			tc.build(b)

			_, err := b.Compile()
			var graphErr *GraphError
			if !errors.As(err, &graphErr) {
				t.Fatalf("expected *GraphError, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestGraphNext(t *testing.T) {
	schema := NewSchema().Channel("verdict")

	build := func(router RouterFunc) *Graph {
		b := NewBuilder(schema)
		b.AddStep("decide", noopStep)
		b.AddStep("ship", noopStep)
		b.AddStep("retry", noopStep)
		b.AddConditionalEdge("decide", router, map[string]string{
			"ok":   "ship",
			"redo": "retry",
		})
		b.AddEdge("ship", End)
		b.AddEdge("retry", End)
		b.StartAt("decide")

		g, err := b.Compile()
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		return g
	}

	t.Run("router selects declared target", func(t *testing.T) {
		g := build(func(state Values) string {
			if state["verdict"] == "approved" {
				return "ok"
			}
			return "redo"
		})

		next, err := g.next("decide", Values{"verdict": "approved"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next != "ship" {
			t.Errorf("expected 'ship', got %q", next)
		}
	})

	t.Run("undeclared router return fails with RoutingError", func(t *testing.T) {
		g := build(func(Values) string { return "sideways" })

		_, err := g.next("decide", Values{})
		var routingErr *RoutingError
		if !errors.As(err, &routingErr) {
			t.Fatalf("expected *RoutingError, got %v", err)
		}
		if routingErr.Step != "decide" || routingErr.Target != "sideways" {
			t.Errorf("unexpected error detail: %+v", routingErr)
		}
		if len(routingErr.Declared) != 2 {
			t.Errorf("expected 2 declared targets, got %v", routingErr.Declared)
		}
	})

	t.Run("static edge ignores state", func(t *testing.T) {
		g := build(func(Values) string { return "ok" })

		next, err := g.next("ship", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next != End {
			t.Errorf("expected End, got %q", next)
		}
	})
}
