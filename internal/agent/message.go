package agent

// MessageType tags the variants of the transport's message stream.
type MessageType string

const (
	// MessageText is plain assistant output.
	MessageText MessageType = "text"
	// MessageThinking is the agent's internal reasoning, surfaced for observability.
	MessageThinking MessageType = "thinking"
	// MessageToolUse reports a tool invocation by name with its input.
	MessageToolUse MessageType = "tool_use"
	// MessageToolResult carries a tool's output back into the conversation.
	MessageToolResult MessageType = "tool_result"
	// MessageUsage reports token consumption for the turn so far.
	MessageUsage MessageType = "usage"
)

// Message is one element of the agent transport's stream. Exactly the
// fields for its Type are set.
type Message struct {
	Type MessageType

	// Content holds text for MessageText/MessageThinking and the result
	// payload for MessageToolResult. Tool results may be structured; they
	// are JSON-serialised before token estimation.
	Content any

	// ToolName and ToolInput describe a MessageToolUse.
	ToolName  string
	ToolInput any

	// Usage is set for MessageUsage.
	Usage TokenUsage
}

// TokenUsage is the usage block reported by the transport.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int

	// CostUSD is the transport-reported cost when available; zero means
	// the executor derives cost from token counts.
	CostUSD float64
}

// Text builds a plain text message.
func Text(content string) Message {
	return Message{Type: MessageText, Content: content}
}

// Thinking builds a reasoning message.
func Thinking(content string) Message {
	return Message{Type: MessageThinking, Content: content}
}

// ToolUse builds a tool invocation message.
func ToolUse(name string, input any) Message {
	return Message{Type: MessageToolUse, ToolName: name, ToolInput: input}
}

// ToolResult builds a tool result message.
func ToolResult(content any) Message {
	return Message{Type: MessageToolResult, Content: content}
}

// UsageUpdate builds a usage message.
func UsageUpdate(input, output int) Message {
	return Message{Type: MessageUsage, Usage: TokenUsage{InputTokens: input, OutputTokens: output}}
}
