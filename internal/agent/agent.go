// Package agent holds the immutable per-call agent configuration.
package agent

import (
	"fmt"
	"time"
)

// VoiceConfig selects and tunes the synthesis voice. Consumed only by the
// speech-synthesis stage.
type VoiceConfig struct {
	Provider string  `json:"provider"`
	VoiceID  string  `json:"voice_id"`
	Style    string  `json:"style,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Pitch    float64 `json:"pitch,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
}

// Agent is the conversational configuration for a call. It is loaded once at
// session start and never mutated mid-call.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	SystemPrompt string      `json:"system_prompt"`
	Greeting     string      `json:"greeting,omitempty"`
	SpeakFirst   bool        `json:"speak_first"`
	Voice        VoiceConfig `json:"voice"`

	// SilenceTimeout is how long the caller must stay silent before their
	// turn ends.
	SilenceTimeout time.Duration `json:"silence_timeout"`

	// MaxCallDuration hard-caps the session regardless of activity.
	// Zero means no cap.
	MaxCallDuration time.Duration `json:"max_call_duration,omitempty"`

	// ContextWindowTurns bounds how many past turns are sent to the model.
	// Zero means the full history.
	ContextWindowTurns int `json:"context_window_turns,omitempty"`

	// EndPhrases end the call when matched in a final transcript.
	EndPhrases []string `json:"end_phrases,omitempty"`

	// MaxToolDepth bounds recursive tool invocation per reply.
	MaxToolDepth int `json:"max_tool_depth,omitempty"`
}

// DefaultMaxToolDepth bounds tool recursion when the agent does not set one.
const DefaultMaxToolDepth = 5

// Validate rejects agents that cannot run a call. Called at session start,
// before any audio is accepted.
func (a *Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if a.SystemPrompt == "" {
		return fmt.Errorf("agent %q: system prompt is required", a.Name)
	}
	if a.SilenceTimeout <= 0 {
		return fmt.Errorf("agent %q: silence timeout must be positive, got %v", a.Name, a.SilenceTimeout)
	}
	if a.SpeakFirst && a.Greeting == "" {
		return fmt.Errorf("agent %q: speak-first requires a greeting", a.Name)
	}
	if a.Voice.Provider == "" || a.Voice.VoiceID == "" {
		return fmt.Errorf("agent %q: voice provider and voice id are required", a.Name)
	}
	if a.Voice.Speed < 0 || a.Voice.Volume < 0 {
		return fmt.Errorf("agent %q: voice speed and volume must be non-negative", a.Name)
	}
	if a.MaxToolDepth < 0 {
		return fmt.Errorf("agent %q: max tool depth must be non-negative", a.Name)
	}
	return nil
}

// ToolDepth returns the effective tool-recursion bound.
func (a *Agent) ToolDepth() int {
	if a.MaxToolDepth > 0 {
		return a.MaxToolDepth
	}
	return DefaultMaxToolDepth
}
