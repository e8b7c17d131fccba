package audio

import (
	"math"
	"time"
)

// DetectorConfig controls speech/silence classification.
type DetectorConfig struct {
	// SpeechThresholdDB is the energy level above which a chunk counts as speech.
	SpeechThresholdDB float64
	// MinSpeechDuration discards segments shorter than this as noise blips.
	MinSpeechDuration time.Duration
	// PreSpeechBuffer is how much leading audio to keep so the first syllable
	// is not clipped off the segment.
	PreSpeechBuffer time.Duration
	// SampleRate of the float32 samples fed to Process.
	SampleRate int
}

// DefaultDetectorConfig returns mid-range sensitivity suitable for call audio.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SpeechThresholdDB: -30,
		MinSpeechDuration: 200 * time.Millisecond,
		PreSpeechBuffer:   300 * time.Millisecond,
		SampleRate:        16000,
	}
}

// Classification is the outcome of feeding one chunk to the Detector.
type Classification struct {
	// Speech reports whether this chunk was classified as speech.
	Speech bool
	// SpeechStarted is set on the silence→speech transition only.
	SpeechStarted bool
	// Silence is the running silence duration since the last speech chunk.
	// Zero while speaking.
	Silence time.Duration
	// EnergyDB is the chunk's RMS energy, for telemetry.
	EnergyDB float64
}

// Detector classifies audio chunks as speech or silence by RMS energy and
// accumulates the current caller turn's audio. Time advances with the samples
// fed in, not the wall clock, so boundary decisions are deterministic for a
// given audio stream.
type Detector struct {
	cfg DetectorConfig

	speaking     bool
	clock        time.Duration
	speechStart  time.Duration
	lastSpeechAt time.Duration

	buffer       []float32
	preSpeech    []float32
	preSpeechMax int
}

// NewDetector creates a Detector with the given config.
func NewDetector(cfg DetectorConfig) *Detector {
	preSamples := int(cfg.PreSpeechBuffer.Seconds() * float64(cfg.SampleRate))
	return &Detector{
		cfg:          cfg,
		preSpeechMax: preSamples,
		preSpeech:    make([]float32, 0, preSamples),
	}
}

// Process classifies one chunk and advances the detector's sample clock.
func (d *Detector) Process(samples []float32) Classification {
	energyDB := energyDB(samples)
	d.clock += sampleDuration(len(samples), d.cfg.SampleRate)

	if energyDB >= d.cfg.SpeechThresholdDB {
		return d.onSpeech(samples, energyDB)
	}
	return d.onSilence(samples, energyDB)
}

func (d *Detector) onSpeech(samples []float32, energyDB float64) Classification {
	c := Classification{Speech: true, EnergyDB: energyDB}
	if !d.speaking {
		d.speaking = true
		d.speechStart = d.clock
		d.buffer = append(d.buffer, d.preSpeech...)
		c.SpeechStarted = true
	}
	d.lastSpeechAt = d.clock
	d.buffer = append(d.buffer, samples...)
	d.preSpeech = d.preSpeech[:0]
	return c
}

func (d *Detector) onSilence(samples []float32, energyDB float64) Classification {
	c := Classification{EnergyDB: energyDB}
	d.updatePreSpeech(samples)

	if !d.speaking {
		return c
	}

	// Trailing silence stays in the segment so STT hears the utterance end.
	d.buffer = append(d.buffer, samples...)
	c.Silence = d.clock - d.lastSpeechAt
	return c
}

func (d *Detector) updatePreSpeech(samples []float32) {
	d.preSpeech = append(d.preSpeech, samples...)
	if len(d.preSpeech) > d.preSpeechMax {
		d.preSpeech = d.preSpeech[len(d.preSpeech)-d.preSpeechMax:]
	}
}

// Speaking reports whether the detector is inside a speech segment.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// TakeSegment returns the buffered turn audio and resets the detector for the
// next turn. Returns nil when the speech ran shorter than MinSpeechDuration.
// Ownership of the returned slice passes to the caller: the buffer is never
// read by two turns.
func (d *Detector) TakeSegment() []float32 {
	if !d.speaking {
		return nil
	}
	d.speaking = false
	segment := d.buffer
	d.buffer = nil

	if d.lastSpeechAt-d.speechStart < d.cfg.MinSpeechDuration {
		return nil
	}
	return segment
}

// Flush returns whatever speech audio is buffered and resets the detector.
// Used when the session is closing mid-turn.
func (d *Detector) Flush() []float32 {
	if len(d.buffer) == 0 {
		return nil
	}
	segment := d.buffer
	d.buffer = nil
	d.speaking = false
	return segment
}

func sampleDuration(n, rate int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(rate)
}

func energyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
