package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/call"
	"github.com/voicegate/voicegate/internal/frame"
	"github.com/voicegate/voicegate/internal/metrics"
)

// respondProcessor turns each final transcript into one assistant reply,
// streaming text deltas downstream as tokens arrive. Tool calls requested by
// the model run synchronously and the loop re-prompts with their results, up
// to the agent's tool depth.
//
// The conversation commit is atomic: the assistant turn is appended only when
// the reply completes. A canceled reply leaves the conversation as it was
// after the user's turn.
type respondProcessor struct {
	llm   Responder
	tools *ToolRegistry
	conv  *call.Conversation
	agt   *agent.Agent
}

func newRespondProcessor(llm Responder, tools *ToolRegistry, conv *call.Conversation, agt *agent.Agent) *respondProcessor {
	return &respondProcessor{llm: llm, tools: tools, conv: conv, agt: agt}
}

func (p *respondProcessor) Name() string { return "respond" }

func (p *respondProcessor) Process(ctx context.Context, f frame.Frame, emit Emit) error {
	switch f.Kind {
	case frame.KindFinalTranscript:
		if strings.TrimSpace(f.Text) == "" {
			return nil
		}
		return p.reply(ctx, f.Text, f.Utterance, emit)

	case frame.KindCancel:
		metrics.RepliesCanceled.Inc()

	case frame.KindEndOfTask:
		emit(f)
	}
	return nil
}

// reply generates one assistant utterance. The utterance number is assigned
// by the session when it forwards the final transcript, so cancels and audio
// fencing share one sequence.
func (p *respondProcessor) reply(ctx context.Context, userText string, utt uint64, emit Emit) error {
	p.conv.Append(call.RoleUser, userText)

	msgs := p.buildPrompt()
	onDelta := func(delta string) {
		emit(frame.AssistantTextDelta(delta, utt))
	}

	start := time.Now()
	var (
		text      strings.Builder
		toolTrace []ToolCall
	)
	for depth := 0; ; depth++ {
		comp, err := p.stream(ctx, msgs, onDelta)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Model failure degrades to a skipped reply; the call stays
			// up and the turn still closes so the session goes back to
			// listening.
			metrics.Errors.WithLabelValues("respond", "stream").Inc()
			emit(frame.AssistantTextDone(utt))
			return fmt.Errorf("stream completion: %w", err)
		}
		text.WriteString(comp.Text)

		if len(comp.ToolCalls) == 0 {
			break
		}
		if depth >= p.agt.ToolDepth() {
			slog.Warn("tool depth exhausted", "agent", p.agt.ID, "depth", depth)
			metrics.Errors.WithLabelValues("respond", "tool_depth").Inc()
			break
		}
		toolTrace = append(toolTrace, comp.ToolCalls...)
		msgs = append(msgs, Message{Role: string(call.RoleAssistant), Content: comp.Text, ToolCalls: comp.ToolCalls})
		msgs = append(msgs, p.runTools(ctx, comp.ToolCalls)...)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	metrics.StageDuration.WithLabelValues("respond").Observe(time.Since(start).Seconds())

	p.commit(text.String(), toolTrace)
	emit(frame.AssistantTextDone(utt))
	return nil
}

// stream calls the model, retrying once on transient failure. A mid-stream
// failure is not retried: once any delta has reached the caller a second
// attempt would replay the opening of the reply.
func (p *respondProcessor) stream(ctx context.Context, msgs []Message, onDelta DeltaFunc) (*Completion, error) {
	var emitted bool
	forward := func(delta string) {
		emitted = true
		onDelta(delta)
	}
	comp, err := p.llm.Stream(ctx, msgs, p.tools.Tools(), forward)
	if err != nil && ctx.Err() == nil && !emitted {
		slog.Warn("completion failed, retrying", "error", err)
		comp, err = p.llm.Stream(ctx, msgs, p.tools.Tools(), forward)
	}
	return comp, err
}

// runTools executes the model's requested invocations and returns their
// result messages. An unknown or failing tool reports its error back to the
// model instead of failing the reply.
func (p *respondProcessor) runTools(ctx context.Context, calls []ToolCall) []Message {
	results := make([]Message, 0, len(calls))
	for _, tc := range calls {
		out, found, err := p.tools.Invoke(ctx, tc.Name, tc.Arguments)
		switch {
		case !found:
			out = fmt.Sprintf("error: unknown tool %q", tc.Name)
		case err != nil:
			metrics.Errors.WithLabelValues("respond", "tool").Inc()
			slog.Warn("tool invocation failed", "tool", tc.Name, "error", err)
			out = fmt.Sprintf("error: %v", err)
		}
		metrics.ToolInvocations.WithLabelValues(tc.Name).Inc()
		results = append(results, Message{Role: "tool", Content: out, ToolCallID: tc.ID})
	}
	return results
}

func (p *respondProcessor) buildPrompt() []Message {
	window := p.conv.Window(p.agt.ContextWindowTurns)
	msgs := make([]Message, 0, len(window)+1)
	msgs = append(msgs, Message{Role: string(call.RoleSystem), Content: p.agt.SystemPrompt})
	for _, t := range window {
		msgs = append(msgs, Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}

func (p *respondProcessor) commit(text string, toolTrace []ToolCall) {
	if len(toolTrace) == 0 {
		p.conv.Append(call.RoleAssistant, text)
		return
	}
	payload, err := json.Marshal(toolTrace)
	if err != nil {
		payload = nil
	}
	p.conv.AppendToolCall(text, payload)
}

func (p *respondProcessor) Close(context.Context) error { return nil }
