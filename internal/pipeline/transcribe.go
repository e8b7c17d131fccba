package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/frame"
	"github.com/voicegate/voicegate/internal/metrics"
)

// finalWait bounds how long we wait for the provider to confirm the final
// transcript after the turn's audio has been fed.
const finalWait = 5 * time.Second

// transcribeProcessor feeds each released speech segment to a fresh
// transcription session and emits exactly one final transcript per turn.
// Interim hypotheses stream out as partials while the provider works.
//
// Provider failures degrade rather than kill the call: one retry, then an
// empty final so the turn completes and the pipeline keeps moving.
type transcribeProcessor struct {
	stt    Transcriber
	format audio.Format

	sess     TranscriptionSession
	finalCh  chan string
	degraded bool
}

func newTranscribeProcessor(stt Transcriber, format audio.Format) *transcribeProcessor {
	// Segments arrive PCM16-normalized from voice activity detection
	// regardless of the wire encoding, so sessions open as linear PCM at
	// the session rate.
	return &transcribeProcessor{stt: stt, format: audio.Format{
		Encoding:   audio.EncodingPCM16,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}}
}

func (p *transcribeProcessor) Name() string { return "transcribe" }

func (p *transcribeProcessor) Process(ctx context.Context, f frame.Frame, emit Emit) error {
	switch f.Kind {
	case frame.KindUserSpeechStarted:
		// A new turn while a session lingers means the previous turn never
		// finalized; discard it.
		p.discard(ctx)

	case frame.KindAudioChunk:
		start := time.Now()
		if err := p.feed(ctx, f.Audio, emit); err != nil {
			p.degraded = true
			return err
		}
		metrics.StageDuration.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())

	case frame.KindUserSpeechStopped:
		emit(frame.FinalTranscript(p.finalize(ctx)))

	case frame.KindEndOfTask:
		p.discard(ctx)
		emit(f)
	}
	return nil
}

// feed opens a session on first audio of the turn and streams the segment in.
// Both the open and the feed are retried once before degrading.
func (p *transcribeProcessor) feed(ctx context.Context, pcm []byte, emit Emit) error {
	if p.sess == nil {
		sess, err := p.open(ctx)
		if err != nil {
			return fmt.Errorf("open transcription: %w", err)
		}
		p.sess = sess
		p.finalCh = make(chan string, 1)
		go p.read(sess, p.finalCh, emit)
	}
	if err := p.sess.Feed(ctx, pcm); err != nil {
		slog.Warn("transcription feed failed, retrying", "error", err)
		if err = p.sess.Feed(ctx, pcm); err != nil {
			p.discard(ctx)
			return fmt.Errorf("feed transcription: %w", err)
		}
	}
	return nil
}

func (p *transcribeProcessor) open(ctx context.Context) (TranscriptionSession, error) {
	sess, err := p.stt.OpenSession(ctx, p.format)
	if err != nil {
		slog.Warn("transcription open failed, retrying", "error", err)
		sess, err = p.stt.OpenSession(ctx, p.format)
	}
	return sess, err
}

// read forwards interim hypotheses downstream and captures the confirmed
// final. Runs until the provider closes its result stream.
func (p *transcribeProcessor) read(sess TranscriptionSession, finalCh chan string, emit Emit) {
	var final string
	for t := range sess.Results() {
		if t.Final {
			final = t.Text
			continue
		}
		if t.Text != "" {
			emit(frame.PartialTranscript(t.Text))
		}
	}
	finalCh <- final
}

// finalize closes the turn's session and returns the cleaned final
// transcript. A turn with no usable audio, a degraded provider, or a
// noise-only transcript yields the empty string.
func (p *transcribeProcessor) finalize(ctx context.Context) string {
	if p.sess == nil || p.degraded {
		p.discard(ctx)
		return ""
	}
	sess, finalCh := p.sess, p.finalCh
	p.sess, p.finalCh = nil, nil

	if err := sess.Close(ctx); err != nil {
		slog.Warn("transcription close", "error", err)
	}
	select {
	case final := <-finalCh:
		return cleanTranscript(final)
	case <-time.After(finalWait):
		slog.Warn("transcription final timed out")
		metrics.Errors.WithLabelValues("transcribe", "final_timeout").Inc()
		return ""
	case <-ctx.Done():
		return ""
	}
}

func (p *transcribeProcessor) discard(ctx context.Context) {
	if p.sess != nil {
		p.sess.Close(ctx)
		p.sess, p.finalCh = nil, nil
	}
	p.degraded = false
}

func (p *transcribeProcessor) Close(ctx context.Context) error {
	p.discard(ctx)
	return nil
}

// noisePhrases are hallucinated fillers some STT models produce for silence
// or line noise. A final consisting only of these is treated as empty.
var noisePhrases = map[string]struct{}{
	"you":                 {},
	"uh":                  {},
	"um":                  {},
	"hmm":                 {},
	"mm-hmm":              {},
	"thank you":           {},
	"thanks":              {},
	"bye":                 {},
	".":                   {},
	"the":                 {},
	"so":                  {},
	"yeah":                {},
	"okay":                {},
	"[blank_audio]":       {},
	"[silence]":           {},
	"(static)":            {},
	"thanks for watching": {},
}

func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	normalized := strings.ToLower(strings.Trim(text, ".,!? "))
	if _, noise := noisePhrases[normalized]; noise {
		return ""
	}
	return text
}
