package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockScriptedResponses(t *testing.T) {
	m := &Mock{Responses: []ChatOut{
		{Text: "first"},
		{Text: "second"},
	}}
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second", "second"} {
		out, err := m.Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}}, nil)
		if err != nil {
			t.Fatalf("chat: %v", err)
		}
		if out.Text != want {
			t.Errorf("got %q, want %q", out.Text, want)
		}
	}
	if m.CallCount() != 4 {
		t.Errorf("expected 4 recorded calls, got %d", m.CallCount())
	}
}

func TestMockRecordsInputs(t *testing.T) {
	m := &Mock{}
	spec := ToolSpec{Name: "supplier_search"}

	_, err := m.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "classify"},
		{Role: RoleUser, Content: "5000m poplin"},
	}, []ToolSpec{spec})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(m.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(m.Calls))
	}
	call := m.Calls[0]
	if len(call.Messages) != 2 || call.Messages[1].Content != "5000m poplin" {
		t.Errorf("messages not recorded: %+v", call.Messages)
	}
	if len(call.Tools) != 1 || call.Tools[0].Name != "supplier_search" {
		t.Errorf("tools not recorded: %+v", call.Tools)
	}
}

func TestMockErrorInjection(t *testing.T) {
	boom := errors.New("rate limited")
	m := &Mock{Err: boom, Responses: []ChatOut{{Text: "never"}}}

	if _, err := m.Chat(context.Background(), nil, nil); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	if m.CallCount() != 1 {
		t.Error("failed calls must still be recorded")
	}
}

func TestMockReset(t *testing.T) {
	m := &Mock{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
	ctx := context.Background()

	_, _ = m.Chat(ctx, nil, nil)
	_, _ = m.Chat(ctx, nil, nil)
	m.Reset()

	if m.CallCount() != 0 {
		t.Errorf("expected empty history after reset, got %d", m.CallCount())
	}
	out, _ := m.Chat(ctx, nil, nil)
	if out.Text != "a" {
		t.Errorf("expected sequence rewind, got %q", out.Text)
	}
}

func TestMockCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &Mock{Responses: []ChatOut{{Text: "x"}}}
	if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
