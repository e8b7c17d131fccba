package audio

import "fmt"

// Encoding names a wire audio encoding.
type Encoding string

const (
	EncodingPCM16    Encoding = "pcm16"
	EncodingG711Ulaw Encoding = "g711_ulaw"
	EncodingG711Alaw Encoding = "g711_alaw"
)

// Format describes the fixed audio contract for one session. Every frame in
// a session carries the same Format; a mismatch is a configuration error
// surfaced at session start, never handled mid-call.
type Format struct {
	Encoding   Encoding `json:"encoding"`
	SampleRate int      `json:"sample_rate"`
	Channels   int      `json:"channels"`
}

// Telephony returns the narrowband companded profile used by phone carriers.
func Telephony() Format {
	return Format{Encoding: EncodingG711Ulaw, SampleRate: 8000, Channels: 1}
}

// Browser returns the wideband PCM profile used by browser callers.
func Browser() Format {
	return Format{Encoding: EncodingPCM16, SampleRate: 16000, Channels: 1}
}

// Validate rejects formats outside the supported contract.
func (f Format) Validate() error {
	switch f.Encoding {
	case EncodingPCM16, EncodingG711Ulaw, EncodingG711Alaw:
	default:
		return fmt.Errorf("unsupported encoding: %q", f.Encoding)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("only mono audio is supported, got %d channels", f.Channels)
	}
	return nil
}

// BytesPerSample returns the wire size of one sample.
func (f Format) BytesPerSample() int {
	if f.Encoding == EncodingPCM16 {
		return 2
	}
	return 1
}
