package tool

import (
	"context"
	"sync"
)

// Mock is a scripted Tool for tests: configurable name, response sequence
// (last response repeats), error injection, and call recording. Safe for
// concurrent use.
type Mock struct {
	// ToolName is the identifier returned by Name.
	ToolName string

	// Responses is the scripted output sequence.
	Responses []map[string]any

	// Err, when set, is returned by every Call.
	Err error

	// Calls records each invocation's input, in order.
	Calls []map[string]any

	mu   sync.Mutex
	next int
}

// Name implements Tool.
func (m *Mock) Name() string {
	return m.ToolName
}

// Call returns the next scripted response, recording the call either way.
func (m *Mock) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, input)

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]any{}, nil
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

// CallCount returns how many times Call was invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
