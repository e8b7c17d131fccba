package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/audio"
)

func TestSynthesizeStreamsChunks(t *testing.T) {
	pcm := audio.EncodePCM16(make([]float32, 8000))

	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/text-to-speech/voice-1/stream", r.URL.Path)
		require.Equal(t, "key-1", r.Header.Get("xi-api-key"))
		gotFormat = r.URL.Query().Get("output_format")
		w.Write(pcm)
	}))
	defer srv.Close()

	c := NewTTSClient(TTSConfig{APIKey: "key-1", BaseURL: srv.URL, HTTPClient: srv.Client()})

	var total int
	err := c.Synthesize(t.Context(), "hello there", agent.VoiceConfig{VoiceID: "voice-1"}, audio.Browser(), func(chunk []byte) {
		total += len(chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, "pcm_16000", gotFormat)
	assert.Equal(t, len(pcm), total)
}

func TestSynthesizeResamplesUnsupportedRate(t *testing.T) {
	// One second at the provider's 24 kHz fallback rate.
	pcm := audio.EncodePCM16(make([]float32, 24000))

	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormat = r.URL.Query().Get("output_format")
		w.Write(pcm)
	}))
	defer srv.Close()

	c := NewTTSClient(TTSConfig{APIKey: "key-1", BaseURL: srv.URL, HTTPClient: srv.Client()})

	format := audio.Format{Encoding: audio.EncodingPCM16, SampleRate: 12000, Channels: 1}
	var total int
	err := c.Synthesize(t.Context(), "hello there", agent.VoiceConfig{VoiceID: "voice-1"}, format, func(chunk []byte) {
		total += len(chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, "pcm_24000", gotFormat)
	// Half the provider rate means roughly half the bytes back out. Chunk
	// boundaries may shave a few samples.
	assert.InDelta(t, len(pcm)/2, total, 256)
}

func TestSynthesizeRejectsUnsupportedEncodingRate(t *testing.T) {
	c := NewTTSClient(TTSConfig{APIKey: "key-1"})
	format := audio.Format{Encoding: audio.EncodingG711Alaw, SampleRate: 8000, Channels: 1}
	err := c.Synthesize(t.Context(), "hi", agent.VoiceConfig{VoiceID: "v"}, format, func([]byte) {})
	require.Error(t, err)
}

func TestSynthesizeCancelAbortsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewTTSClient(TTSConfig{APIKey: "key-1", BaseURL: srv.URL, HTTPClient: srv.Client()})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := c.Synthesize(ctx, "hello", agent.VoiceConfig{VoiceID: "v"}, audio.Browser(), func([]byte) {})
	require.ErrorIs(t, err, context.Canceled)
}
