package audio

import (
	"math"
	"testing"
	"time"
)

// chunk of 20ms at 16kHz
const chunkSamples = 320

func speechChunk() []float32 {
	out := make([]float32, chunkSamples)
	for i := range out {
		out[i] = 0.5 * float32(math.Sin(float64(i)*0.2))
	}
	return out
}

func silenceChunk() []float32 {
	return make([]float32, chunkSamples)
}

func testConfig() DetectorConfig {
	cfg := DefaultDetectorConfig()
	cfg.MinSpeechDuration = 40 * time.Millisecond
	return cfg
}

func TestDetectorSpeechStartTransition(t *testing.T) {
	d := NewDetector(testConfig())

	c := d.Process(silenceChunk())
	if c.Speech || c.SpeechStarted {
		t.Fatalf("silence classified as speech: %+v", c)
	}

	c = d.Process(speechChunk())
	if !c.Speech || !c.SpeechStarted {
		t.Fatalf("expected speech start, got %+v", c)
	}

	// Continued speech must not re-signal the start.
	c = d.Process(speechChunk())
	if !c.Speech || c.SpeechStarted {
		t.Fatalf("expected continued speech without start, got %+v", c)
	}
}

func TestDetectorSilenceAccumulatesBySampleClock(t *testing.T) {
	d := NewDetector(testConfig())
	d.Process(speechChunk())
	d.Process(speechChunk())

	// Each 320-sample chunk at 16kHz is 20ms.
	for i := 1; i <= 5; i++ {
		c := d.Process(silenceChunk())
		want := time.Duration(i) * 20 * time.Millisecond
		if c.Silence != want {
			t.Fatalf("chunk %d: silence = %v, want %v", i, c.Silence, want)
		}
	}
}

func TestDetectorSilenceResetsWhenSpeechResumes(t *testing.T) {
	d := NewDetector(testConfig())
	d.Process(speechChunk())
	d.Process(silenceChunk())
	d.Process(silenceChunk())

	c := d.Process(speechChunk())
	if c.Silence != 0 {
		t.Fatalf("silence should reset on speech, got %v", c.Silence)
	}
	c = d.Process(silenceChunk())
	if c.Silence != 20*time.Millisecond {
		t.Fatalf("silence should restart from zero, got %v", c.Silence)
	}
}

func TestDetectorTakeSegment(t *testing.T) {
	t.Run("returns turn audio once", func(t *testing.T) {
		d := NewDetector(testConfig())
		for range 5 {
			d.Process(speechChunk())
		}
		d.Process(silenceChunk())

		seg := d.TakeSegment()
		if len(seg) == 0 {
			t.Fatal("expected buffered segment")
		}
		if d.Speaking() {
			t.Error("detector should reset after TakeSegment")
		}
		if again := d.TakeSegment(); again != nil {
			t.Errorf("second TakeSegment should return nil, got %d samples", len(again))
		}
	})

	t.Run("discards blips shorter than MinSpeechDuration", func(t *testing.T) {
		d := NewDetector(testConfig())
		d.Process(speechChunk()) // 20ms < 40ms minimum
		d.Process(silenceChunk())

		if seg := d.TakeSegment(); seg != nil {
			t.Errorf("blip should be discarded, got %d samples", len(seg))
		}
	})
}

func TestDetectorPreSpeechKept(t *testing.T) {
	cfg := testConfig()
	cfg.PreSpeechBuffer = 40 * time.Millisecond
	d := NewDetector(cfg)

	// Two chunks of leading silence, then 3 chunks of speech.
	d.Process(silenceChunk())
	d.Process(silenceChunk())
	for range 3 {
		d.Process(speechChunk())
	}
	d.Process(silenceChunk())

	seg := d.TakeSegment()
	// pre-speech (2 chunks, capped at 40ms=2 chunks) + speech (3) + trailing silence (1)
	want := 6 * chunkSamples
	if len(seg) != want {
		t.Fatalf("segment length = %d, want %d", len(seg), want)
	}
}

func TestDetectorFlush(t *testing.T) {
	d := NewDetector(testConfig())
	d.Process(speechChunk())

	if seg := d.Flush(); len(seg) == 0 {
		t.Fatal("flush should return buffered audio")
	}
	if seg := d.Flush(); seg != nil {
		t.Error("second flush should be empty")
	}
}

func TestFixedThreshold(t *testing.T) {
	p := FixedThreshold{}
	threshold := 800 * time.Millisecond

	if p.BoundaryReached(799*time.Millisecond, threshold) {
		t.Error("boundary before threshold")
	}
	if !p.BoundaryReached(800*time.Millisecond, threshold) {
		t.Error("boundary missed at exact threshold")
	}
	if !p.BoundaryReached(time.Second, threshold) {
		t.Error("boundary missed past threshold")
	}
}
