// Package session orchestrates one live call: it owns the call state
// machine, feeds caller audio into the pipeline, routes pipeline output to
// the transport, and arbitrates barge-in.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/call"
	"github.com/voicegate/voicegate/internal/frame"
	"github.com/voicegate/voicegate/internal/metrics"
	"github.com/voicegate/voicegate/internal/pipeline"
	"github.com/voicegate/voicegate/internal/telemetry"
)

// State is the session lifecycle position. Transitions only move forward
// except for the listening/responding alternation.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateResponding
	StateEnding
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateStarting:   "starting",
	StateListening:  "listening",
	StateResponding: "responding",
	StateEnding:     "ending",
	StateClosed:     "closed",
}

func (s State) String() string { return stateNames[s] }

// End reasons reported on call completion.
const (
	ReasonCallerHangup   = "caller_hangup"
	ReasonAgentHangup    = "agent_hangup"
	ReasonMaxDuration    = "max_duration"
	ReasonTransportError = "transport_error"
	ReasonShutdown       = "shutdown"
)

// Event is one structured notification pushed to the transport alongside the
// audio stream.
type Event struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	State     string `json:"state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Utterance uint64 `json:"utterance,omitempty"`
}

// Transport is the session's view of the caller connection.
type Transport interface {
	// SendAudio ships one chunk of agent speech to the caller.
	SendAudio(ctx context.Context, chunk []byte) error
	// SendEvent ships one structured event.
	SendEvent(ctx context.Context, ev Event) error
	// ClearPlayback drops audio already buffered on the caller side so a
	// barge-in silences the agent immediately.
	ClearPlayback(ctx context.Context) error
}

// CallStore persists completed calls.
type CallStore interface {
	SaveCall(ctx context.Context, c *call.Call) error
}

// Telephony hangs up the provider leg of telephony-backed calls. WebSocket
// calls have no provider leg and leave it nil.
type Telephony interface {
	EndCall(ctx context.Context, providerCallID string) error
}

// MetaProviderCallID is the call metadata key holding the telephony
// provider's own call identifier.
const MetaProviderCallID = "provider_call_id"

// Config assembles one session.
type Config struct {
	Agent     *agent.Agent
	Call      *call.Call
	Format    audio.Format
	Transport Transport

	STT   pipeline.Transcriber
	LLM   pipeline.Responder
	TTS   pipeline.Synthesizer
	Tools *pipeline.ToolRegistry

	// Store may be nil; the call is then not persisted.
	Store CallStore
	// Tracer may be nil.
	Tracer *telemetry.Tracer
	// Telephony may be nil for transports with no provider leg.
	Telephony Telephony
}

// Session drives one call from answer to teardown. All state is owned by the
// Run goroutine; the transport and pipeline communicate with it through
// channels.
type Session struct {
	cfg  Config
	conv *call.Conversation
	pipe *pipeline.Pipeline

	frames chan frame.Frame
	endCh  chan string

	state           State
	utt             uint64
	currentUtt      uint64
	canceledThrough uint64
	agentSpeaking   bool
	endAfterReply   bool
	turnBoundaryAt  time.Time
	sendFailures    int
}

// New validates the configuration and builds the session and its pipeline.
func New(cfg Config) (*Session, error) {
	if cfg.Call == nil {
		return nil, fmt.Errorf("session: call is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	s := &Session{
		cfg:    cfg,
		conv:   cfg.Call.Conversation,
		frames: make(chan frame.Frame, 256),
		endCh:  make(chan string, 1),
		state:  StateIdle,
	}
	pipe, err := pipeline.New(pipeline.Config{
		Agent:        cfg.Agent,
		Format:       cfg.Format,
		Conversation: s.conv,
		STT:          cfg.STT,
		LLM:          cfg.LLM,
		TTS:          cfg.TTS,
		Tools:        cfg.Tools,
		Sink:         s.sink,
	})
	if err != nil {
		return nil, err
	}
	s.pipe = pipe
	return s, nil
}

// sink receives every frame leaving the pipeline. Called from stage
// goroutines; the Run loop is the sole consumer.
func (s *Session) sink(f frame.Frame) {
	s.frames <- f
}

// PushAudio feeds one inbound caller audio chunk. Safe to call from the
// transport's read goroutine.
func (s *Session) PushAudio(data []byte, timestampMs int64) {
	metrics.AudioChunks.WithLabelValues("in").Inc()
	s.pipe.PushAudio(frame.AudioChunk(data, timestampMs))
}

// End requests teardown with the given reason. Idempotent.
func (s *Session) End(reason string) {
	select {
	case s.endCh <- reason:
	default:
	}
}

// Run drives the session until the call ends. It returns after the call has
// been persisted and the pipeline torn down.
func (s *Session) Run(ctx context.Context) error {
	s.state = StateStarting
	if err := s.cfg.Call.Start(); err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	metrics.CallsActive.Inc()
	defer metrics.CallsActive.Dec()
	s.cfg.Tracer.CallStarted(s.cfg.Call)

	s.pipe.Start(ctx)
	s.state = StateListening
	s.sendEvent(ctx, Event{Type: "call_started", State: s.state.String()})

	if s.cfg.Agent.SpeakFirst {
		s.speak(s.cfg.Agent.Greeting)
	}

	// A nil channel never fires, which is how a zero MaxCallDuration means
	// no cap.
	var maxDurC <-chan time.Time
	if s.cfg.Agent.MaxCallDuration > 0 {
		maxDur := time.NewTimer(s.cfg.Agent.MaxCallDuration)
		defer maxDur.Stop()
		maxDurC = maxDur.C
	}

	reason := ReasonShutdown
loop:
	for {
		select {
		case f := <-s.frames:
			s.handleFrame(ctx, f)
			if s.state == StateEnding {
				reason = ReasonTransportError
				break loop
			}
		case r := <-s.endCh:
			reason = r
			break loop
		case <-maxDurC:
			reason = ReasonMaxDuration
			break loop
		case <-ctx.Done():
			reason = ReasonShutdown
			break loop
		}
	}

	s.finish(ctx, reason)
	return nil
}

// speak injects assistant text straight into synthesis, bypassing the model.
// The text is committed to the conversation immediately since no generation
// can fail or be canceled before it starts playing.
func (s *Session) speak(text string) {
	s.utt++
	s.currentUtt = s.utt
	s.state = StateResponding
	s.conv.Append(call.RoleAssistant, text)
	s.pipe.PushSpeech(frame.AssistantTextDelta(text, s.utt))
	s.pipe.PushSpeech(frame.AssistantTextDone(s.utt))
}

func (s *Session) handleFrame(ctx context.Context, f frame.Frame) {
	switch f.Kind {
	case frame.KindUserSpeechStarted:
		s.sendEvent(ctx, Event{Type: "user_speech_started"})
		s.bargeIn(ctx)

	case frame.KindUserSpeechStopped:
		s.turnBoundaryAt = time.Now()
		s.sendEvent(ctx, Event{Type: "user_speech_stopped"})

	case frame.KindPartialTranscript:
		s.sendEvent(ctx, Event{Type: "partial_transcript", Text: f.Text})

	case frame.KindFinalTranscript:
		s.handleTranscript(ctx, f.Text)

	case frame.KindAssistantTextDelta:
		s.sendEvent(ctx, Event{Type: "assistant_text", Text: f.Text, Utterance: f.Utterance})

	case frame.KindAssistantTextDone:
		s.handleReplyDone(ctx, f.Utterance)

	case frame.KindSynthesizedAudioChunk:
		s.handleAgentAudio(ctx, f)

	case frame.KindBackpressure:
		slog.Debug("backpressure", "call_id", s.cfg.Call.ID, "stage", f.Stage, "depth", f.QueueDepth)
	}
}

// bargeIn interrupts agent speech because the caller started talking.
// Idempotent: a second speech start while already listening does nothing.
func (s *Session) bargeIn(ctx context.Context) {
	if s.state != StateResponding && !s.agentSpeaking {
		return
	}
	metrics.BargeIns.Inc()
	s.cfg.Tracer.BargeIn(s.cfg.Call, s.currentUtt)
	s.canceledThrough = s.currentUtt
	s.agentSpeaking = false
	s.state = StateListening
	s.pipe.CancelSpeak("barge_in", s.currentUtt)
	if err := s.cfg.Transport.ClearPlayback(ctx); err != nil {
		slog.Warn("clear playback", "call_id", s.cfg.Call.ID, "error", err)
	}
	s.sendEvent(ctx, Event{Type: "barge_in", Utterance: s.currentUtt})
}

func (s *Session) handleTranscript(ctx context.Context, text string) {
	s.sendEvent(ctx, Event{Type: "final_transcript", Text: text})
	if strings.TrimSpace(text) == "" {
		return
	}
	if s.state == StateEnding {
		// Trailing turn captured during teardown: keep the words, skip the reply.
		s.conv.Append(call.RoleUser, text)
		return
	}
	if s.isEndPhrase(text) {
		s.endAfterReply = true
	}

	s.utt++
	s.currentUtt = s.utt
	s.state = StateResponding
	f := frame.FinalTranscript(text)
	f.Utterance = s.utt
	s.pipe.PushTranscript(f)
}

func (s *Session) handleReplyDone(ctx context.Context, utt uint64) {
	if utt <= s.canceledThrough || utt != s.currentUtt {
		return
	}
	s.agentSpeaking = false
	s.state = StateListening
	s.sendEvent(ctx, Event{Type: "assistant_done", Utterance: utt})
	s.cfg.Tracer.TurnCompleted(s.cfg.Call, utt)
	if s.endAfterReply {
		s.End(ReasonAgentHangup)
	}
}

// handleAgentAudio forwards agent speech, fencing out chunks that belong to
// a canceled utterance but were already in flight.
func (s *Session) handleAgentAudio(ctx context.Context, f frame.Frame) {
	if f.Utterance <= s.canceledThrough {
		return
	}
	if !s.agentSpeaking && f.Utterance == s.currentUtt && !s.turnBoundaryAt.IsZero() {
		metrics.TurnDuration.Observe(time.Since(s.turnBoundaryAt).Seconds())
		s.turnBoundaryAt = time.Time{}
	}
	s.agentSpeaking = true
	if err := s.cfg.Transport.SendAudio(ctx, f.Audio); err != nil {
		s.sendFailures++
		slog.Warn("send audio", "call_id", s.cfg.Call.ID, "error", err)
		if s.sendFailures >= 3 {
			s.state = StateEnding
		}
		return
	}
	s.sendFailures = 0
	metrics.AudioChunks.WithLabelValues("out").Inc()
}

func (s *Session) isEndPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range s.cfg.Agent.EndPhrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// finish tears the call down: cancel agent speech, flush the listen half so
// a trailing user turn is not lost, persist, and close.
func (s *Session) finish(ctx context.Context, reason string) {
	s.state = StateEnding
	s.pipe.CancelSpeak(reason, s.currentUtt)
	s.canceledThrough = s.currentUtt
	s.pipe.FlushListen()

	// Drain concurrently with shutdown so stages never block on a full sink.
	done := make(chan struct{})
	go func() {
		s.pipe.Shutdown()
		close(done)
	}()
drain:
	for {
		select {
		case f := <-s.frames:
			s.keepTrailing(f)
		case <-done:
			break drain
		}
	}
	// The select can take the done case with frames still buffered; empty
	// the queue so a trailing transcript is never dropped.
flush:
	for {
		select {
		case f := <-s.frames:
			s.keepTrailing(f)
		default:
			break flush
		}
	}

	if err := s.cfg.Call.End(); err != nil {
		slog.Warn("end call", "call_id", s.cfg.Call.ID, "error", err)
	}
	s.hangupProvider(ctx, reason)
	s.persist(ctx)

	metrics.CallsTotal.WithLabelValues(reason).Inc()
	metrics.CallDuration.Observe(s.cfg.Call.Duration().Seconds())
	s.cfg.Tracer.CallEnded(s.cfg.Call, reason)
	s.sendEvent(ctx, Event{Type: "call_ended", Reason: reason, State: StateClosed.String()})
	s.state = StateClosed
	slog.Info("call ended",
		"call_id", s.cfg.Call.ID,
		"reason", reason,
		"duration", s.cfg.Call.Duration(),
		"turns", s.conv.Len())
}

// keepTrailing records a final transcript that arrives during teardown so the
// caller's last words make it into the persisted conversation.
func (s *Session) keepTrailing(f frame.Frame) {
	if f.Kind == frame.KindFinalTranscript && strings.TrimSpace(f.Text) != "" {
		s.conv.Append(call.RoleUser, f.Text)
	}
}

// hangupProvider releases the telephony leg unless the caller already hung up.
func (s *Session) hangupProvider(ctx context.Context, reason string) {
	if s.cfg.Telephony == nil || reason == ReasonCallerHangup {
		return
	}
	providerID := s.cfg.Call.Metadata[MetaProviderCallID]
	if providerID == "" {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.cfg.Telephony.EndCall(hctx, providerID); err != nil {
		slog.Warn("provider hangup", "call_id", s.cfg.Call.ID, "error", err)
	}
}

func (s *Session) persist(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.cfg.Store.SaveCall(pctx, s.cfg.Call); err != nil {
		metrics.Errors.WithLabelValues("session", "persist").Inc()
		slog.Error("persist call", "call_id", s.cfg.Call.ID, "error", err)
	}
}

func (s *Session) sendEvent(ctx context.Context, ev Event) {
	if err := s.cfg.Transport.SendEvent(ctx, ev); err != nil {
		slog.Debug("send event", "call_id", s.cfg.Call.ID, "type", ev.Type, "error", err)
	}
}
