package bus

// Inbound message kinds, matching the channel wire protocol. Login frames
// are resolved at the gateway and never reach the bus.
const (
	InboundUserMessage          = "user_message"
	InboundConfirmationResponse = "confirmation_response"
)

// Outbound message kinds.
const (
	OutboundAssistantMessage    = "assistant_message"
	OutboundToolCall            = "tool_call"
	OutboundConfirmationRequest = "confirmation_request"
	OutboundToolResult          = "tool_result"
	OutboundError               = "error"
)

type InboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	Kind       string            `json:"kind"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage carries one protocol event back to a connected client.
// Which fields are set depends on Kind: tool calls carry Name and redacted
// Args, confirmation requests carry MessageID, tool results carry ToolName.
type OutboundMessage struct {
	Channel   string         `json:"channel"`
	ChatID    string         `json:"chat_id"`
	Kind      string         `json:"kind"`
	Content   string         `json:"content,omitempty"`
	Name      string         `json:"name,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Result    string         `json:"result,omitempty"`
}
