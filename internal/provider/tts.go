package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/pipeline"
)

const (
	defaultTTSURL   = "https://api.elevenlabs.io"
	defaultTTSModel = "eleven_flash_v2_5"
	ttsChunkSize    = 4096
)

// TTSConfig configures the streaming synthesis client.
type TTSConfig struct {
	APIKey  string
	BaseURL string
	ModelID string
	// HTTPClient overrides the pooled default, mainly for tests.
	HTTPClient *http.Client
}

// TTSClient streams synthesized speech over HTTP. Audio chunks reach the
// caller as the provider produces them, so playback starts well before the
// sentence finishes rendering.
type TTSClient struct {
	cfg  TTSConfig
	http *http.Client
}

// NewTTSClient builds a client for an ElevenLabs-compatible endpoint.
func NewTTSClient(cfg TTSConfig) *TTSClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTTSURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = defaultTTSModel
	}
	client := cfg.HTTPClient
	if client == nil {
		// No overall timeout: the body is a stream paced by synthesis.
		client = newPooledHTTPClient(8, 0)
	}
	return &TTSClient{cfg: cfg, http: client}
}

type ttsRequest struct {
	ModelID       string       `json:"model_id"`
	Text          string       `json:"text"`
	VoiceSettings *ttsSettings `json:"voice_settings,omitempty"`
}

type ttsSettings struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Style           float64  `json:"style"`
	Speed           *float64 `json:"speed,omitempty"`
}

// Synthesize renders one piece of text in the session's wire format,
// streaming chunks through emit. Cancelling ctx aborts the request and the
// body read mid-stream.
func (c *TTSClient) Synthesize(ctx context.Context, text string, voice agent.VoiceConfig, format audio.Format, emit pipeline.AudioFunc) error {
	if voice.VoiceID == "" {
		return fmt.Errorf("tts: voice id is empty")
	}
	outFormat, providerRate, err := outputFormat(format)
	if err != nil {
		return err
	}
	if providerRate != format.SampleRate {
		emit = resamplingEmit(emit, providerRate, format.SampleRate)
	}

	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("tts: base url: %w", err)
	}
	u.Path = "/v1/text-to-speech/" + voice.VoiceID + "/stream"
	q := u.Query()
	q.Set("output_format", outFormat)
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	settings := &ttsSettings{Stability: 0.4, SimilarityBoost: 0.7}
	if voice.Speed > 0 {
		speed := voice.Speed
		settings.Speed = &speed
	}
	body, err := json.Marshal(ttsRequest{
		ModelID:       c.cfg.ModelID,
		Text:          text,
		VoiceSettings: settings,
	})
	if err != nil {
		return fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tts: status %d: %s", resp.StatusCode, b)
	}

	buf := make([]byte, ttsChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			emit(chunk)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tts stream: %w", rerr)
		}
	}
}

// outputFormat maps the session wire format onto the provider's format
// names. PCM sessions at a rate the provider cannot render directly get
// pcm_24000 and are resampled on the way out.
func outputFormat(format audio.Format) (name string, providerRate int, err error) {
	switch {
	case format.Encoding == audio.EncodingPCM16 && format.SampleRate == 16000:
		return "pcm_16000", 16000, nil
	case format.Encoding == audio.EncodingPCM16 && format.SampleRate == 8000:
		return "pcm_8000", 8000, nil
	case format.Encoding == audio.EncodingPCM16 && format.SampleRate == 24000:
		return "pcm_24000", 24000, nil
	case format.Encoding == audio.EncodingPCM16:
		return "pcm_24000", 24000, nil
	case format.Encoding == audio.EncodingG711Ulaw && format.SampleRate == 8000:
		return "ulaw_8000", 8000, nil
	}
	return "", 0, fmt.Errorf("tts: unsupported output format %s/%d", format.Encoding, format.SampleRate)
}

// resamplingEmit converts provider PCM16 chunks to the session rate before
// handing them on. Chunks may split a sample across the boundary, so an odd
// trailing byte is held back for the next chunk.
func resamplingEmit(emit pipeline.AudioFunc, srcRate, dstRate int) pipeline.AudioFunc {
	var pending []byte
	return func(chunk []byte) {
		pending = append(pending, chunk...)
		n := len(pending) &^ 1
		if n == 0 {
			return
		}
		samples, err := audio.Decode(pending[:n], audio.Format{Encoding: audio.EncodingPCM16, SampleRate: srcRate, Channels: 1})
		pending = pending[n:]
		if err != nil {
			return
		}
		emit(audio.EncodePCM16(audio.Resample(samples, srcRate, dstRate)))
	}
}
