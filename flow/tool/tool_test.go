package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("register and call", func(t *testing.T) {
		r := NewRegistry()
		mock := &Mock{
			ToolName:  "supplier_search",
			Responses: []map[string]any{{"suppliers": []any{"a"}}},
		}
		if err := r.Register(mock); err != nil {
			t.Fatalf("register: %v", err)
		}

		out, err := r.Call(ctx, "supplier_search", map[string]any{"fabric_type": "poplin"})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if _, ok := out["suppliers"]; !ok {
			t.Errorf("unexpected output: %v", out)
		}
		if mock.Calls[0]["fabric_type"] != "poplin" {
			t.Errorf("input not passed through: %v", mock.Calls[0])
		}
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(&Mock{ToolName: "x"}); err != nil {
			t.Fatalf("first register: %v", err)
		}
		if err := r.Register(&Mock{ToolName: "x"}); err == nil {
			t.Error("expected duplicate registration error")
		}
	})

	t.Run("nameless tool rejected", func(t *testing.T) {
		if err := NewRegistry().Register(&Mock{}); err == nil {
			t.Error("expected error for empty name")
		}
	})

	t.Run("unregistered call fails", func(t *testing.T) {
		_, err := NewRegistry().Call(ctx, "ghost", nil)
		if err == nil || !strings.Contains(err.Error(), "not registered") {
			t.Errorf("expected not-registered error, got %v", err)
		}
	})

	t.Run("names sorted", func(t *testing.T) {
		r := NewRegistry()
		for _, name := range []string{"crm_update", "supplier_search", "http"} {
			if err := r.Register(&Mock{ToolName: name}); err != nil {
				t.Fatalf("register %s: %v", name, err)
			}
		}
		names := r.Names()
		want := []string{"crm_update", "http", "supplier_search"}
		for i := range want {
			if names[i] != want[i] {
				t.Fatalf("got %v, want %v", names, want)
			}
		}
	})
}

func TestMockTool(t *testing.T) {
	ctx := context.Background()

	t.Run("scripted sequence repeats last", func(t *testing.T) {
		m := &Mock{ToolName: "t", Responses: []map[string]any{
			{"n": 1},
			{"n": 2},
		}}
		for _, want := range []int{1, 2, 2} {
			out, err := m.Call(ctx, nil)
			if err != nil {
				t.Fatalf("call: %v", err)
			}
			if out["n"] != want {
				t.Errorf("got %v, want %d", out["n"], want)
			}
		}
	})

	t.Run("error injection", func(t *testing.T) {
		boom := errors.New("upstream down")
		m := &Mock{ToolName: "t", Err: boom}
		if _, err := m.Call(ctx, nil); !errors.Is(err, boom) {
			t.Errorf("expected injected error, got %v", err)
		}
	})

	t.Run("reset rewinds", func(t *testing.T) {
		m := &Mock{ToolName: "t", Responses: []map[string]any{{"n": 1}, {"n": 2}}}
		_, _ = m.Call(ctx, nil)
		m.Reset()
		out, _ := m.Call(ctx, nil)
		if out["n"] != 1 || m.CallCount() != 1 {
			t.Errorf("reset did not rewind: out=%v calls=%d", out, m.CallCount())
		}
	})
}
