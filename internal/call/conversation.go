package call

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one immutable entry in the conversation log.
type Turn struct {
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	ToolCall  json.RawMessage `json:"tool_call,omitempty"`
}

// Conversation is the append-only turn log owned by a Call. Turns are never
// reordered or deleted during a live call; the bounded context window is
// applied only when building the model prompt.
type Conversation struct {
	turns []Turn
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds one turn. An assistant turn is appended only after its reply
// completed; canceled replies never reach here.
func (c *Conversation) Append(role Role, content string) {
	c.turns = append(c.turns, Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// AppendToolCall records a completed tool invocation alongside its result.
func (c *Conversation) AppendToolCall(content string, payload json.RawMessage) {
	c.turns = append(c.turns, Turn{
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		ToolCall:  payload,
	})
}

// Len returns the number of committed turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Turns returns a copy of the full ordered history.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Window returns the last n turns for prompt building without mutating the
// stored history. n <= 0 returns everything.
func (c *Conversation) Window(n int) []Turn {
	if n <= 0 || n >= len(c.turns) {
		return c.Turns()
	}
	out := make([]Turn, n)
	copy(out, c.turns[len(c.turns)-n:])
	return out
}

// MarshalJSON encodes the ordered turn list.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.turns)
}

// UnmarshalJSON restores the ordered turn list.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.turns)
}
