package frame

import "testing"

func TestKindString(t *testing.T) {
	for kind, want := range kindNames {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(kind), got, want)
		}
	}
	if got := Kind(99).String(); got != "kind(99)" {
		t.Errorf("unknown kind = %q", got)
	}
}

func TestOutOfBand(t *testing.T) {
	if !Cancel("barge-in", 3).OutOfBand() {
		t.Error("Cancel should be out-of-band")
	}
	inBand := []Frame{
		AudioChunk([]byte{1, 2}, 0),
		UserSpeechStarted(),
		UserSpeechStopped(),
		PartialTranscript("hel"),
		FinalTranscript("hello"),
		AssistantTextDelta("hi", 1),
		AssistantTextDone(1),
		SynthesizedAudioChunk([]byte{3}, 1),
		Backpressure("synthesize", 8),
		EndOfTask(),
	}
	for _, f := range inBand {
		if f.OutOfBand() {
			t.Errorf("%s should not be out-of-band", f.Kind)
		}
	}
}

func TestConstructors(t *testing.T) {
	f := Cancel("barge-in", 7)
	if f.Reason != "barge-in" || f.Utterance != 7 {
		t.Errorf("Cancel fields = %+v", f)
	}

	f = Backpressure("transcribe", 16)
	if f.Stage != "transcribe" || f.QueueDepth != 16 {
		t.Errorf("Backpressure fields = %+v", f)
	}

	f = AudioChunk([]byte{0xAA}, 120)
	if f.TimestampMs != 120 || len(f.Audio) != 1 {
		t.Errorf("AudioChunk fields = %+v", f)
	}
}
