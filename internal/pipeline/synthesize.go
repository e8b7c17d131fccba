package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/frame"
	"github.com/voicegate/voicegate/internal/metrics"
)

// synthesizeProcessor turns streamed assistant text into agent speech. Text
// is buffered to sentence granularity before each provider request; the stage
// loop serializes requests so at most one synthesis is in flight, and
// remaining sentences wait in the buffer and the stage queue.
//
// Barge-in lands here as an out-of-band Cancel: the in-flight request aborts
// through its context and every frame at or below the canceled utterance is
// dropped on arrival.
type synthesizeProcessor struct {
	tts    Synthesizer
	voice  agent.VoiceConfig
	format audio.Format

	buf             sentenceBuffer
	canceledThrough uint64
}

func newSynthesizeProcessor(tts Synthesizer, voice agent.VoiceConfig, format audio.Format) *synthesizeProcessor {
	return &synthesizeProcessor{tts: tts, voice: voice, format: format}
}

func (p *synthesizeProcessor) Name() string { return "synthesize" }

func (p *synthesizeProcessor) Process(ctx context.Context, f frame.Frame, emit Emit) error {
	switch f.Kind {
	case frame.KindAssistantTextDelta:
		if p.stale(f.Utterance) {
			return nil
		}
		if sentence := p.buf.Add(f.Text); sentence != "" {
			return p.speak(ctx, sentence, f.Utterance, emit)
		}

	case frame.KindAssistantTextDone:
		if p.stale(f.Utterance) {
			return nil
		}
		if rest := p.buf.Flush(); rest != "" {
			if err := p.speak(ctx, rest, f.Utterance, emit); err != nil {
				emit(f)
				return err
			}
		}
		// Forwarded only after all audio for the reply has been emitted, so
		// the session's turn accounting trails the last chunk.
		emit(f)

	case frame.KindCancel:
		if f.Utterance > p.canceledThrough {
			p.canceledThrough = f.Utterance
		}
		p.buf.Reset()

	case frame.KindEndOfTask:
		p.buf.Reset()
		emit(f)
	}
	return nil
}

func (p *synthesizeProcessor) stale(utterance uint64) bool {
	return utterance <= p.canceledThrough
}

// speak synthesizes one sentence, streaming chunks downstream as the provider
// produces them. One retry on failure, then the sentence is skipped so the
// reply continues with whatever speech the provider can deliver.
func (p *synthesizeProcessor) speak(ctx context.Context, text string, utterance uint64, emit Emit) error {
	text = normalizeForSpeech(text)
	if text == "" {
		return nil
	}

	start := time.Now()
	// Outbound chunks are counted by the session once they clear the
	// utterance fence, not here.
	onChunk := func(chunk []byte) {
		emit(frame.SynthesizedAudioChunk(chunk, utterance))
	}
	err := p.tts.Synthesize(ctx, text, p.voice, p.format, onChunk)
	if err != nil && ctx.Err() == nil {
		slog.Warn("synthesis failed, retrying", "error", err)
		err = p.tts.Synthesize(ctx, text, p.voice, p.format, onChunk)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.Errors.WithLabelValues("synthesize", "tts").Inc()
		return fmt.Errorf("synthesize sentence: %w", err)
	}
	metrics.StageDuration.WithLabelValues("synthesize").Observe(time.Since(start).Seconds())
	return nil
}

func (p *synthesizeProcessor) Close(context.Context) error { return nil }
