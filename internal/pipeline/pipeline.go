// Package pipeline implements the per-call frame pipeline: a listen half
// (voice activity → transcription) and a speak half (response generation →
// speech synthesis) of concurrently running stages connected by bounded
// queues. The session orchestrator owns one Pipeline per call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/call"
	"github.com/voicegate/voicegate/internal/frame"
	"github.com/voicegate/voicegate/internal/metrics"
)

// DefaultQueueDepth bounds each stage's input queue.
const DefaultQueueDepth = 32

// Emit delivers a frame produced by a processor. Implementations are safe for
// concurrent use: processors may call emit from reader goroutines.
type Emit func(frame.Frame)

// Processor consumes one frame and produces zero or more frames. Process runs
// on the stage's goroutine; the ctx it receives is canceled when an
// out-of-band Cancel pre-empts the in-flight frame.
type Processor interface {
	Name() string
	Process(ctx context.Context, f frame.Frame, emit Emit) error
	Close(ctx context.Context) error
}

// Stage runs one processor on its own goroutine with a bounded FIFO input
// queue. Cancel frames bypass the queue through a dedicated channel and
// pre-empt the in-flight frame by canceling its context.
type Stage struct {
	proc     Processor
	in       chan frame.Frame
	oob      chan frame.Frame
	emit     Emit
	feedback Emit
	done     chan struct{}

	mu         sync.Mutex
	taskCancel context.CancelFunc
}

func newStage(proc Processor, depth int, emit, feedback Emit) *Stage {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Stage{
		proc:     proc,
		in:       make(chan frame.Frame, depth),
		oob:      make(chan frame.Frame, 1),
		emit:     emit,
		feedback: feedback,
		done:     make(chan struct{}),
	}
}

func (s *Stage) start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Stage) run(ctx context.Context) {
	defer close(s.done)
	for {
		// Out-of-band frames always win over the queue.
		select {
		case c := <-s.oob:
			s.handle(ctx, c)
			continue
		default:
		}

		select {
		case c := <-s.oob:
			s.handle(ctx, c)
		case f, ok := <-s.in:
			if !ok {
				if err := s.proc.Close(ctx); err != nil {
					slog.Warn("stage close", "stage", s.proc.Name(), "error", err)
				}
				return
			}
			s.handle(ctx, f)
		case <-ctx.Done():
			s.proc.Close(context.WithoutCancel(ctx))
			return
		}
	}
}

func (s *Stage) handle(ctx context.Context, f frame.Frame) {
	taskCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.taskCancel = cancel
	s.mu.Unlock()

	err := s.proc.Process(taskCtx, f, s.emit)

	s.mu.Lock()
	s.taskCancel = nil
	s.mu.Unlock()
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.Errors.WithLabelValues(s.proc.Name(), "process").Inc()
		slog.Error("stage process", "stage", s.proc.Name(), "kind", f.Kind.String(), "error", err)
	}
}

// Push enqueues a frame in arrival order. When the queue is full it emits one
// Backpressure advisory upstream, then waits for space rather than dropping.
func (s *Stage) Push(f frame.Frame) {
	select {
	case s.in <- f:
		metrics.QueueDepth.WithLabelValues(s.proc.Name()).Set(float64(len(s.in)))
		return
	default:
	}
	metrics.Backpressure.WithLabelValues(s.proc.Name()).Inc()
	if s.feedback != nil {
		s.feedback(frame.Backpressure(s.proc.Name(), len(s.in)))
	}
	select {
	case s.in <- f:
	case <-s.done:
	}
}

// Cancel pre-empts the in-flight frame and delivers the cancel out-of-band so
// the processor can reset its state. Duplicate cancels collapse.
func (s *Stage) Cancel(f frame.Frame) {
	s.mu.Lock()
	if s.taskCancel != nil {
		s.taskCancel()
	}
	s.mu.Unlock()

	select {
	case s.oob <- f:
	default:
	}
}

// CloseInput stops accepting frames; the stage drains its queue, closes the
// processor, and exits.
func (s *Stage) CloseInput() {
	close(s.in)
}

// Wait blocks until the stage goroutine has exited.
func (s *Stage) Wait() {
	<-s.done
}

// Config assembles one call's pipeline.
type Config struct {
	Agent        *agent.Agent
	Format       audio.Format
	Conversation *call.Conversation

	STT   Transcriber
	LLM   Responder
	TTS   Synthesizer
	Tools *ToolRegistry

	// TurnPolicy defaults to audio.FixedThreshold.
	TurnPolicy audio.TurnPolicy
	// Detector defaults to audio.DefaultDetectorConfig at the session rate.
	Detector *audio.DetectorConfig

	// Sink receives every frame leaving the pipeline (transcripts, assistant
	// text, synthesized audio, backpressure advisories). Must be safe for
	// concurrent use.
	Sink Emit

	QueueDepth int
}

// Pipeline is the fixed, ordered set of stages for one call.
type Pipeline struct {
	vad        *Stage
	transcribe *Stage
	respond    *Stage
	synthesize *Stage
}

// New validates the configuration and assembles the stages. Configuration
// errors fail here, at session start, before any audio is accepted.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("pipeline: agent is required")
	}
	if err := cfg.Agent.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.STT == nil || cfg.LLM == nil || cfg.TTS == nil {
		return nil, fmt.Errorf("pipeline: stt, llm, and tts ports are required")
	}
	if cfg.Conversation == nil {
		return nil, fmt.Errorf("pipeline: conversation is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("pipeline: sink is required")
	}

	policy := cfg.TurnPolicy
	if policy == nil {
		policy = audio.FixedThreshold{}
	}
	detCfg := audio.DefaultDetectorConfig()
	detCfg.SampleRate = cfg.Format.SampleRate
	if cfg.Detector != nil {
		detCfg = *cfg.Detector
	}
	tools := cfg.Tools
	if tools == nil {
		tools = NewToolRegistry()
	}

	p := &Pipeline{}

	p.synthesize = newStage(
		newSynthesizeProcessor(cfg.TTS, cfg.Agent.Voice, cfg.Format),
		cfg.QueueDepth, cfg.Sink, cfg.Sink)

	p.respond = newStage(
		newRespondProcessor(cfg.LLM, tools, cfg.Conversation, cfg.Agent),
		cfg.QueueDepth,
		func(f frame.Frame) {
			// Speak half: deltas and done feed synthesis; deltas are also
			// surfaced to the session for live captioning.
			switch f.Kind {
			case frame.KindAssistantTextDelta:
				cfg.Sink(f)
				p.synthesize.Push(f)
			case frame.KindAssistantTextDone:
				p.synthesize.Push(f)
			default:
				cfg.Sink(f)
			}
		},
		cfg.Sink)

	p.transcribe = newStage(
		newTranscribeProcessor(cfg.STT, cfg.Format),
		cfg.QueueDepth, cfg.Sink, cfg.Sink)

	p.vad = newStage(
		newVADProcessor(detCfg, policy, cfg.Agent.SilenceTimeout, cfg.Format),
		cfg.QueueDepth,
		func(f frame.Frame) {
			// Listen half: everything flows to transcription; speech
			// start/stop also reach the session immediately for barge-in
			// and turn accounting.
			switch f.Kind {
			case frame.KindUserSpeechStarted, frame.KindUserSpeechStopped:
				cfg.Sink(f)
			}
			p.transcribe.Push(f)
		},
		cfg.Sink)

	return p, nil
}

// Start launches all stage goroutines.
func (p *Pipeline) Start(ctx context.Context) {
	p.synthesize.start(ctx)
	p.respond.start(ctx)
	p.transcribe.start(ctx)
	p.vad.start(ctx)
}

// PushAudio feeds one inbound caller audio frame to the listen half.
func (p *Pipeline) PushAudio(f frame.Frame) {
	p.vad.Push(f)
}

// PushTranscript hands a final transcript to response generation.
func (p *Pipeline) PushTranscript(f frame.Frame) {
	p.respond.Push(f)
}

// PushSpeech injects assistant text straight into synthesis, bypassing
// generation. Used for the speak-first greeting and canned fallbacks.
func (p *Pipeline) PushSpeech(f frame.Frame) {
	p.synthesize.Push(f)
}

// CancelSpeak broadcasts an out-of-band cancel to the speak half. The listen
// half is untouched: the caller's new utterance is already being captured.
func (p *Pipeline) CancelSpeak(reason string, utterance uint64) {
	c := frame.Cancel(reason, utterance)
	p.respond.Cancel(c)
	p.synthesize.Cancel(c)
}

// FlushListen asks the listen half to finalize the current turn.
func (p *Pipeline) FlushListen() {
	p.vad.Push(frame.EndOfTask())
}

// Shutdown drains and stops all stages in flow order.
func (p *Pipeline) Shutdown() {
	p.vad.CloseInput()
	p.vad.Wait()
	p.transcribe.CloseInput()
	p.transcribe.Wait()
	p.respond.CloseInput()
	p.respond.Wait()
	p.synthesize.CloseInput()
	p.synthesize.Wait()
}
