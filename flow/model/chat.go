// Package model abstracts LLM chat providers behind one interface so workflow
// steps stay provider-agnostic. Adapters for OpenAI, Anthropic, and Google
// live in subpackages; tests use Mock.
package model

import "context"

// ChatModel is the unified chat completion interface the negotiation steps
// program against.
//
// Implementations handle provider authentication, convert between the standard
// Message format and the provider wire format, and respect context
// cancellation. Retry policy belongs to the adapter, not the caller.
//
//	m := openai.New(os.Getenv("OPENAI_API_KEY"), "")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "Classify this inquiry."},
//	}, nil)
type ChatModel interface {
	// Chat sends the conversation to the provider and returns its reply.
	// tools, when non-nil, lets the provider respond with tool calls instead
	// of (or alongside) text.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string `json:"role"`

	// Content is the message text. May be empty on turns that only carry
	// tool calls.
	Content string `json:"content"`
}

// Standard conversation roles, aligned with the major providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the LLM may call. Schema follows JSON Schema and
// describes the tool's input parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is the LLM's request to invoke one tool.
type ToolCall struct {
	// Name matches a ToolSpec.Name from the offered tools.
	Name string

	// Input holds the call arguments, shaped by the tool's schema.
	Input map[string]any
}

// Usage reports token consumption for one completion, when the provider
// supplies it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatOut is a provider's reply: text, tool calls, or both.
type ChatOut struct {
	// Text is the generated response. Empty when the reply is tool calls only.
	Text string

	// ToolCalls are the tools the LLM wants invoked, in order.
	ToolCalls []ToolCall

	// Usage is the completion's token accounting; zero when the provider
	// does not report it.
	Usage Usage
}
