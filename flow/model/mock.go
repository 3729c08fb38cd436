package model

import (
	"context"
	"sync"
)

// Mock is a scripted ChatModel for tests: it returns its configured responses
// in order (repeating the last once exhausted), records every call, and can
// inject errors. Safe for concurrent use.
//
//	m := &model.Mock{Responses: []model.ChatOut{
//	    {Text: `{"intent":"purchase_request","confidence":0.93}`},
//	}}
type Mock struct {
	// Responses is the scripted reply sequence. When exhausted the last
	// response repeats.
	Responses []ChatOut

	// Err, when set, is returned by every Chat call.
	Err error

	// Calls records each invocation's inputs, in order.
	Calls []MockCall

	mu   sync.Mutex
	next int
}

// MockCall records one Chat invocation.
type MockCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat returns the next scripted response, recording the call either way.
func (m *Mock) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}
	return m.Responses[idx], nil
}

// Reset clears call history and rewinds the response sequence.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}

// CallCount returns how many times Chat was invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
