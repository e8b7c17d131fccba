package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/frame"
)

const vadChunkSamples = 320 // 20ms at 16kHz

func vadTestProcessor(threshold time.Duration) *vadProcessor {
	cfg := audio.DefaultDetectorConfig()
	cfg.MinSpeechDuration = 40 * time.Millisecond
	return newVADProcessor(cfg, audio.FixedThreshold{}, threshold, audio.Browser())
}

func speechFrame() frame.Frame {
	samples := make([]float32, vadChunkSamples)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.5
		} else {
			samples[i] = -0.5
		}
	}
	return frame.AudioChunk(audio.EncodePCM16(samples), 0)
}

func silenceFrame() frame.Frame {
	return frame.AudioChunk(audio.EncodePCM16(make([]float32, vadChunkSamples)), 0)
}

func feed(t *testing.T, p *vadProcessor, out *sink, f frame.Frame, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, p.Process(t.Context(), f, out.emit))
	}
}

func TestVADBoundaryFiresExactlyOnce(t *testing.T) {
	p := vadTestProcessor(200 * time.Millisecond)
	out := &sink{}

	feed(t, p, out, speechFrame(), 10) // 200ms of speech
	require.Equal(t, []frame.Kind{frame.KindUserSpeechStarted}, out.kinds())

	// Silence accumulates by the sample clock; the boundary fires on the
	// first chunk that crosses the threshold and never again while silence
	// continues.
	feed(t, p, out, silenceFrame(), 30) // 600ms of silence

	var stops, audioOut int
	for _, f := range out.all() {
		switch f.Kind {
		case frame.KindUserSpeechStopped:
			stops++
		case frame.KindAudioChunk:
			audioOut++
		}
	}
	require.Equal(t, 1, stops)
	require.Equal(t, 1, audioOut, "segment released as a single chunk")
}

func TestVADSilenceResetOnResume(t *testing.T) {
	p := vadTestProcessor(200 * time.Millisecond)
	out := &sink{}

	feed(t, p, out, speechFrame(), 10)
	feed(t, p, out, silenceFrame(), 9) // 180ms, just under the threshold
	feed(t, p, out, speechFrame(), 5)  // caller resumes
	feed(t, p, out, silenceFrame(), 9) // timer restarted, still no boundary

	for _, f := range out.all() {
		require.NotEqual(t, frame.KindUserSpeechStopped, f.Kind)
	}

	feed(t, p, out, silenceFrame(), 2) // crosses the threshold now
	kinds := out.kinds()
	require.Equal(t, frame.KindUserSpeechStopped, kinds[len(kinds)-1])
}

func TestVADBlipYieldsNoAudio(t *testing.T) {
	p := vadTestProcessor(200 * time.Millisecond)
	out := &sink{}

	feed(t, p, out, speechFrame(), 1) // 20ms blip, under MinSpeechDuration
	feed(t, p, out, silenceFrame(), 15)

	require.Equal(t, []frame.Kind{
		frame.KindUserSpeechStarted,
		frame.KindUserSpeechStopped,
	}, out.kinds(), "boundary still emitted, segment discarded")
}

func TestVADSegmentOrderedBeforeStop(t *testing.T) {
	p := vadTestProcessor(200 * time.Millisecond)
	out := &sink{}

	feed(t, p, out, speechFrame(), 10)
	feed(t, p, out, silenceFrame(), 15)

	kinds := out.kinds()
	require.Equal(t, []frame.Kind{
		frame.KindUserSpeechStarted,
		frame.KindAudioChunk,
		frame.KindUserSpeechStopped,
	}, kinds)
}

func TestVADFlushOnEndOfTask(t *testing.T) {
	p := vadTestProcessor(time.Second)
	out := &sink{}

	feed(t, p, out, speechFrame(), 10)
	require.NoError(t, p.Process(t.Context(), frame.EndOfTask(), out.emit))

	require.Equal(t, []frame.Kind{
		frame.KindUserSpeechStarted,
		frame.KindAudioChunk,
		frame.KindUserSpeechStopped,
		frame.KindEndOfTask,
	}, out.kinds())
}
