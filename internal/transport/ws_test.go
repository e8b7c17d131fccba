package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/pipeline"
)

type stubAgents struct{ a *agent.Agent }

func (s *stubAgents) LoadAgent(context.Context, string) (*agent.Agent, error) {
	return s.a, nil
}

type stubSTT struct{}

type stubSTTSession struct{ out chan pipeline.Transcript }

func (stubSTT) OpenSession(context.Context, audio.Format) (pipeline.TranscriptionSession, error) {
	return &stubSTTSession{out: make(chan pipeline.Transcript, 1)}, nil
}

func (s *stubSTTSession) Feed(context.Context, []byte) error  { return nil }
func (s *stubSTTSession) Results() <-chan pipeline.Transcript { return s.out }
func (s *stubSTTSession) Close(context.Context) error         { close(s.out); return nil }

type stubLLM struct{}

func (stubLLM) Stream(_ context.Context, _ []pipeline.Message, _ []pipeline.Tool, onDelta pipeline.DeltaFunc) (*pipeline.Completion, error) {
	onDelta("Hello.")
	return &pipeline.Completion{Text: "Hello."}, nil
}

type stubTTS struct{}

func (stubTTS) Synthesize(_ context.Context, text string, _ agent.VoiceConfig, _ audio.Format, emit pipeline.AudioFunc) error {
	emit([]byte(text))
	return nil
}

func wsAgent() *agent.Agent {
	return &agent.Agent{
		ID:           "agent-1",
		Name:         "Greeter",
		SystemPrompt: "Be brief.",
		Greeting:     "Hi there.",
		SpeakFirst:   true,
		Voice: agent.VoiceConfig{
			Provider: "elevenlabs",
			VoiceID:  "v1",
		},
		SilenceTimeout:  300 * time.Millisecond,
		MaxCallDuration: time.Minute,
	}
}

func newTestHandler(maxConc int) *Handler {
	return NewHandler(HandlerConfig{
		Agents:        &stubAgents{a: wsAgent()},
		STT:           stubSTT{},
		LLM:           stubLLM{},
		TTS:           stubTTS{},
		MaxConcurrent: maxConc,
	})
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHandlerGreetsAfterStart(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(4))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(startMessage{Type: "start", AgentID: "agent-1"}))

	// The speak-first greeting arrives as a binary frame; events as JSON.
	var gotAudio []byte
	deadline := time.Now().Add(2 * time.Second)
	for gotAudio == nil {
		conn.SetReadDeadline(deadline)
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if msgType == websocket.BinaryMessage {
			gotAudio = data
		}
	}
	assert.Equal(t, []byte("Hi there."), gotAudio)

	require.NoError(t, conn.WriteJSON(controlMessage{Type: "hangup"}))
}

func TestHandlerRejectsBadStart(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(4))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(startMessage{Type: "media", AgentID: "agent-1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev map[string]string
	for ev["type"] != "error" {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &ev))
	}
	assert.Contains(t, ev["error"], "want start")
}

func TestHandlerAtCapacity(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(1))
	defer srv.Close()

	first := dial(t, srv)
	defer first.Close()
	require.NoError(t, first.WriteJSON(startMessage{Type: "start", AgentID: "agent-1"}))

	// Wait until the first session is admitted and running.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)

	first.WriteJSON(controlMessage{Type: "hangup"})
}

func TestStartFormatValidation(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		f, err := startFormat(&startMessage{Type: "start", AgentID: "a"})
		require.NoError(t, err)
		assert.Equal(t, audio.Browser(), f)
	})
	t.Run("telephony", func(t *testing.T) {
		f, err := startFormat(&startMessage{Type: "start", AgentID: "a", Encoding: "g711_ulaw", SampleRate: 8000})
		require.NoError(t, err)
		assert.Equal(t, audio.Telephony(), f)
	})
	t.Run("unsupported encoding", func(t *testing.T) {
		_, err := startFormat(&startMessage{Type: "start", AgentID: "a", Encoding: "opus"})
		require.Error(t, err)
	})
}
