package frame

import "fmt"

// Kind identifies a frame variant.
type Kind int

// The zero Kind is invalid so a zero-valued Frame is never mistaken for audio.
const (
	KindAudioChunk Kind = iota + 1
	KindUserSpeechStarted
	KindUserSpeechStopped
	KindPartialTranscript
	KindFinalTranscript
	KindAssistantTextDelta
	KindAssistantTextDone
	KindSynthesizedAudioChunk
	KindBackpressure
	KindCancel
	KindEndOfTask
)

var kindNames = map[Kind]string{
	KindAudioChunk:            "audio_chunk",
	KindUserSpeechStarted:     "user_speech_started",
	KindUserSpeechStopped:     "user_speech_stopped",
	KindPartialTranscript:     "partial_transcript",
	KindFinalTranscript:       "final_transcript",
	KindAssistantTextDelta:    "assistant_text_delta",
	KindAssistantTextDone:     "assistant_text_done",
	KindSynthesizedAudioChunk: "synthesized_audio_chunk",
	KindBackpressure:          "backpressure",
	KindCancel:                "cancel",
	KindEndOfTask:             "end_of_task",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Frame is the unit of data and control flowing through a call pipeline.
// Frames are transient: they live in stage queues and are discarded after
// consumption, never persisted.
//
// Utterance numbers every assistant reply within a session. Cancel carries
// the utterance it kills so frames already in flight for that utterance can
// be fenced at the transport gate.
type Frame struct {
	Kind Kind

	// Audio payload for KindAudioChunk and KindSynthesizedAudioChunk.
	Audio       []byte
	TimestampMs int64

	// Text payload for transcripts and assistant deltas.
	Text string

	// Utterance sequence for assistant-side frames and Cancel.
	Utterance uint64

	// Backpressure fields.
	Stage      string
	QueueDepth int

	// Cancel reason.
	Reason string
}

// OutOfBand reports whether the frame bypasses normal stage queues.
// Cancel is the only out-of-band kind.
func (f Frame) OutOfBand() bool {
	return f.Kind == KindCancel
}

// AudioChunk wraps one inbound caller audio chunk.
func AudioChunk(audio []byte, timestampMs int64) Frame {
	return Frame{Kind: KindAudioChunk, Audio: audio, TimestampMs: timestampMs}
}

// UserSpeechStarted signals the caller began speaking.
func UserSpeechStarted() Frame {
	return Frame{Kind: KindUserSpeechStarted}
}

// UserSpeechStopped signals a turn boundary: the caller's silence exceeded
// the configured timeout.
func UserSpeechStopped() Frame {
	return Frame{Kind: KindUserSpeechStopped}
}

// PartialTranscript carries an interim STT hypothesis.
func PartialTranscript(text string) Frame {
	return Frame{Kind: KindPartialTranscript, Text: text}
}

// FinalTranscript carries the confirmed transcript for one caller turn.
func FinalTranscript(text string) Frame {
	return Frame{Kind: KindFinalTranscript, Text: text}
}

// AssistantTextDelta carries one streamed reply fragment.
func AssistantTextDelta(text string, utterance uint64) Frame {
	return Frame{Kind: KindAssistantTextDelta, Text: text, Utterance: utterance}
}

// AssistantTextDone marks the end of one assistant reply.
func AssistantTextDone(utterance uint64) Frame {
	return Frame{Kind: KindAssistantTextDone, Utterance: utterance}
}

// SynthesizedAudioChunk carries one chunk of agent speech.
func SynthesizedAudioChunk(audio []byte, utterance uint64) Frame {
	return Frame{Kind: KindSynthesizedAudioChunk, Audio: audio, Utterance: utterance}
}

// Backpressure advises the producer for stage that its queue is depth deep.
func Backpressure(stage string, queueDepth int) Frame {
	return Frame{Kind: KindBackpressure, Stage: stage, QueueDepth: queueDepth}
}

// Cancel pre-empts in-flight work for the given utterance.
func Cancel(reason string, utterance uint64) Frame {
	return Frame{Kind: KindCancel, Reason: reason, Utterance: utterance}
}

// EndOfTask asks a stage to finish its current work and flush.
func EndOfTask() Frame {
	return Frame{Kind: KindEndOfTask}
}
