package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/pipeline"
)

const (
	defaultSTTURL       = "wss://streaming.assemblyai.com/v3/ws"
	sttHandshakeTimeout = 10 * time.Second
	sttWriteTimeout     = 5 * time.Second
	sttDrainTimeout     = 5 * time.Second
)

// STTConfig configures the streaming transcription client.
type STTConfig struct {
	APIKey string
	// BaseURL overrides the provider endpoint, mainly for tests.
	BaseURL string
}

// STTClient opens streaming transcription sessions over WebSocket.
type STTClient struct {
	cfg STTConfig
}

// NewSTTClient returns a client for the configured provider.
func NewSTTClient(cfg STTConfig) *STTClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSTTURL
	}
	return &STTClient{cfg: cfg}
}

// OpenSession dials the provider for one caller turn.
func (c *STTClient) OpenSession(ctx context.Context, format audio.Format) (pipeline.TranscriptionSession, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("stt: api key is empty")
	}
	enc, err := wireEncoding(format)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(format.SampleRate))
	params.Set("encoding", enc)
	params.Set("format_turns", "false")

	dialer := websocket.Dialer{HandshakeTimeout: sttHandshakeTimeout}
	header := http.Header{"Authorization": {c.cfg.APIKey}}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.BaseURL+"?"+params.Encode(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stt dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stt dial: %w", err)
	}

	s := &sttSession{
		conn:    conn,
		results: make(chan pipeline.Transcript, 16),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func wireEncoding(format audio.Format) (string, error) {
	switch format.Encoding {
	case audio.EncodingPCM16:
		return "pcm_s16le", nil
	case audio.EncodingG711Ulaw:
		return "pcm_mulaw", nil
	case audio.EncodingG711Alaw:
		return "pcm_alaw", nil
	}
	return "", fmt.Errorf("stt: unsupported encoding %q", format.Encoding)
}

// sttSession is one live provider connection. Binary frames carry audio up;
// JSON messages carry transcripts down.
type sttSession struct {
	conn    *websocket.Conn
	results chan pipeline.Transcript
	done    chan struct{}

	writeMu sync.Mutex
	closed  bool
}

type sttMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
	EndOfTurn  bool   `json:"end_of_turn,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *sttSession) Feed(ctx context.Context, pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return fmt.Errorf("stt: session closed")
	}
	deadline := time.Now().Add(sttWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("stt feed: %w", err)
	}
	return nil
}

func (s *sttSession) Results() <-chan pipeline.Transcript {
	return s.results
}

// readLoop forwards provider messages until termination or error.
func (s *sttSession) readLoop() {
	defer close(s.done)
	defer close(s.results)
	for {
		var msg sttMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "Turn":
			s.results <- pipeline.Transcript{Text: msg.Transcript, Final: msg.EndOfTurn}
		case "Termination":
			return
		case "Error":
			return
		}
	}
}

// Close signals end-of-audio and waits for the provider to finalize.
func (s *sttSession) Close(ctx context.Context) error {
	s.writeMu.Lock()
	if !s.closed {
		s.closed = true
		s.conn.SetWriteDeadline(time.Now().Add(sttWriteTimeout))
		s.conn.WriteJSON(map[string]string{"type": "Terminate"})
	}
	s.writeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(sttDrainTimeout):
	case <-ctx.Done():
	}
	return s.conn.Close()
}
