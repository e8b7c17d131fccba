package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/frame"
	"github.com/voicegate/voicegate/internal/metrics"
)

// vadProcessor turns raw caller audio into speech boundary events. Audio is
// accumulated while the caller speaks; when the turn policy declares a
// boundary the whole segment is released downstream as a single chunk,
// followed by exactly one UserSpeechStopped. Time advances by samples fed,
// not by wall clock.
type vadProcessor struct {
	det       *audio.Detector
	policy    audio.TurnPolicy
	threshold time.Duration
	format    audio.Format
}

func newVADProcessor(cfg audio.DetectorConfig, policy audio.TurnPolicy, threshold time.Duration, format audio.Format) *vadProcessor {
	return &vadProcessor{
		det:       audio.NewDetector(cfg),
		policy:    policy,
		threshold: threshold,
		format:    format,
	}
}

func (p *vadProcessor) Name() string { return "vad" }

func (p *vadProcessor) Process(_ context.Context, f frame.Frame, emit Emit) error {
	switch f.Kind {
	case frame.KindAudioChunk:
		samples, err := audio.Decode(f.Audio, p.format)
		if err != nil {
			// Malformed audio is dropped, not fatal to the call.
			return fmt.Errorf("decode audio: %w", err)
		}
		c := p.det.Process(samples)
		if c.SpeechStarted {
			metrics.SpeechSegments.Inc()
			emit(frame.UserSpeechStarted())
		}
		if p.det.Speaking() && !c.Speech && p.policy.BoundaryReached(c.Silence, p.threshold) {
			p.release(f.TimestampMs, emit)
		}

	case frame.KindEndOfTask:
		// Session is ending: finalize whatever is buffered.
		if p.det.Speaking() {
			if seg := p.det.Flush(); len(seg) > 0 {
				emit(frame.AudioChunk(audio.EncodePCM16(seg), f.TimestampMs))
			}
			emit(frame.UserSpeechStopped())
		}
		emit(f)

	case frame.KindCancel:
		// Cancel never touches the listen half's capture state.
	}
	return nil
}

// release emits the buffered segment and the single boundary marker. A blip
// shorter than the minimum speech duration yields no segment; the marker is
// still emitted so transcription can degrade to an empty final.
func (p *vadProcessor) release(ts int64, emit Emit) {
	if seg := p.det.TakeSegment(); seg != nil {
		emit(frame.AudioChunk(audio.EncodePCM16(seg), ts))
	}
	emit(frame.UserSpeechStopped())
}

func (p *vadProcessor) Close(context.Context) error { return nil }
