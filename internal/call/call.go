// Package call holds the call aggregate and its conversation history.
package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a call.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

// ErrInvalidTransition is returned when Start or End is called from a state
// that does not permit it.
var ErrInvalidTransition = errors.New("invalid call state transition")

// Call is the aggregate root for one session. It is owned by the session
// orchestrator for its whole lifetime and handed to persistence at close.
type Call struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id"`
	Status    Status            `json:"status"`
	StartedAt time.Time         `json:"started_at,omitempty"`
	EndedAt   time.Time         `json:"ended_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	Conversation *Conversation `json:"conversation"`
}

// New creates a call in the initiated state with an empty conversation.
func New(agentID string) *Call {
	return &Call{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Status:       StatusInitiated,
		Metadata:     map[string]string{},
		Conversation: NewConversation(),
	}
}

// Ring moves the call to ringing. Only valid from initiated.
func (c *Call) Ring() error {
	if c.Status != StatusInitiated {
		return fmt.Errorf("%w: ring from %s", ErrInvalidTransition, c.Status)
	}
	c.Status = StatusRinging
	return nil
}

// Start activates the call. Only valid from initiated or ringing.
func (c *Call) Start() error {
	if c.Status != StatusInitiated && c.Status != StatusRinging {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.Status)
	}
	c.Status = StatusActive
	c.StartedAt = time.Now().UTC()
	return nil
}

// End closes the call. Only valid from active or ringing.
func (c *Call) End() error {
	if c.Status != StatusActive && c.Status != StatusRinging {
		return fmt.Errorf("%w: end from %s", ErrInvalidTransition, c.Status)
	}
	c.Status = StatusEnded
	c.EndedAt = time.Now().UTC()
	return nil
}

// Duration is derived from the timestamps, never stored.
func (c *Call) Duration() time.Duration {
	if c.StartedAt.IsZero() {
		return 0
	}
	end := c.EndedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Sub(c.StartedAt)
}
