package pipeline

import (
	"context"
	"encoding/json"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/audio"
)

// Transcript is one speech-to-text result read off a streaming session.
type Transcript struct {
	Text  string
	Final bool
}

// TranscriptionSession is one open streaming STT session. One session covers
// exactly one caller turn.
type TranscriptionSession interface {
	// Feed sends one PCM16 audio chunk to the provider.
	Feed(ctx context.Context, pcm []byte) error
	// Results yields partial and final transcripts as the provider produces
	// them. The channel closes after the final result or on session teardown.
	Results() <-chan Transcript
	// Close signals end-of-audio and tears the session down. The provider
	// confirms end-of-utterance by delivering a final result before Results
	// closes.
	Close(ctx context.Context) error
}

// Transcriber opens streaming transcription sessions for a fixed audio format.
type Transcriber interface {
	OpenSession(ctx context.Context, format audio.Format) (TranscriptionSession, error)
}

// Message is one prompt entry sent to the response model.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool declares one function the model may invoke.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
}

// ToolCall is a model-requested function invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Completion is the outcome of one model streaming call.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	LatencyMs float64
}

// DeltaFunc receives each streamed text fragment as it arrives.
type DeltaFunc func(delta string)

// Responder streams a model completion over the prompt. Implementations must
// stop within one token of ctx cancellation.
type Responder interface {
	Stream(ctx context.Context, messages []Message, tools []Tool, onDelta DeltaFunc) (*Completion, error)
}

// ToolFunc executes one tool invocation and returns its result text.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// ToolRegistry holds the tools an agent exposes to the model.
type ToolRegistry struct {
	tools []Tool
	funcs map[string]ToolFunc
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{funcs: map[string]ToolFunc{}}
}

// Register adds a tool declaration and its implementation.
func (r *ToolRegistry) Register(t Tool, fn ToolFunc) {
	r.tools = append(r.tools, t)
	r.funcs[t.Name] = fn
}

// Tools returns the declarations in registration order.
func (r *ToolRegistry) Tools() []Tool {
	return r.tools
}

// Invoke runs the named tool.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return "", false, nil
	}
	out, err := fn(ctx, args)
	return out, true, err
}

// AudioFunc receives synthesized audio chunks as the provider streams them.
type AudioFunc func(chunk []byte)

// Synthesizer turns text into speech in the session's audio format, streaming
// chunks through emit as they become available. Must abort promptly on ctx
// cancellation.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice agent.VoiceConfig, format audio.Format, emit AudioFunc) error
}
