// Package transport accepts caller connections and binds them to sessions.
// The WebSocket adapter carries caller audio as binary frames and structured
// events as JSON text frames.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/call"
	"github.com/voicegate/voicegate/internal/pipeline"
	"github.com/voicegate/voicegate/internal/session"
	"github.com/voicegate/voicegate/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AgentSource resolves agent configurations for incoming calls.
type AgentSource interface {
	LoadAgent(ctx context.Context, id string) (*agent.Agent, error)
}

// HandlerConfig holds the shared backends for all call sessions.
type HandlerConfig struct {
	Agents AgentSource

	STT   pipeline.Transcriber
	LLM   pipeline.Responder
	TTS   pipeline.Synthesizer
	Tools *pipeline.ToolRegistry

	Store     session.CallStore
	Tracer    *telemetry.Tracer
	Telephony session.Telephony

	MaxConcurrent int
}

// Handler manages WebSocket call sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// startMessage is the first text frame sent by the client.
type startMessage struct {
	Type       string `json:"type"`
	AgentID    string `json:"agent_id"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// controlMessage is any later text frame from the client.
type controlMessage struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades the connection and runs the call session. Returns 503
// when at capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := h.runSession(r.Context(), conn); err != nil {
		slog.Error("session failed", "error", err)
		writeError(conn, err)
	}
}

func (h *Handler) runSession(ctx context.Context, conn *websocket.Conn) error {
	start, err := readStart(conn)
	if err != nil {
		return fmt.Errorf("read start message: %w", err)
	}
	format, err := startFormat(start)
	if err != nil {
		return err
	}

	a, err := h.cfg.Agents.LoadAgent(ctx, start.AgentID)
	if err != nil {
		return fmt.Errorf("load agent %q: %w", start.AgentID, err)
	}

	c := call.New(a.ID)
	tr := &wsTransport{conn: conn}
	sess, err := session.New(session.Config{
		Agent:     a,
		Call:      c,
		Format:    format,
		Transport: tr,
		STT:       h.cfg.STT,
		LLM:       h.cfg.LLM,
		TTS:       h.cfg.TTS,
		Tools:     h.cfg.Tools,
		Store:     h.cfg.Store,
		Tracer:    h.cfg.Tracer,
		Telephony: h.cfg.Telephony,
	})
	if err != nil {
		return err
	}

	slog.Info("call accepted",
		"call_id", c.ID,
		"agent_id", a.ID,
		"encoding", format.Encoding,
		"sample_rate", format.SampleRate)

	go readLoop(conn, sess)
	return sess.Run(ctx)
}

// readLoop feeds caller frames into the session until the peer goes away.
func readLoop(conn *websocket.Conn, sess *session.Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			sess.End(session.ReasonCallerHangup)
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			sess.PushAudio(data, time.Now().UnixMilli())
		case websocket.TextMessage:
			var ctl controlMessage
			if err := json.Unmarshal(data, &ctl); err != nil {
				continue
			}
			if ctl.Type == "hangup" {
				sess.End(session.ReasonCallerHangup)
				return
			}
		}
	}
}

func readStart(conn *websocket.Conn) (*startMessage, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg startMessage
	if err = json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != "start" {
		return nil, fmt.Errorf("first message type %q, want start", msg.Type)
	}
	if msg.AgentID == "" {
		return nil, fmt.Errorf("start message missing agent_id")
	}
	return &msg, nil
}

// startFormat resolves the session wire format from the start message.
// Unsupported combinations are rejected before the session starts.
func startFormat(msg *startMessage) (audio.Format, error) {
	format := audio.Browser()
	if msg.Encoding != "" {
		format.Encoding = audio.Encoding(msg.Encoding)
	}
	if msg.SampleRate > 0 {
		format.SampleRate = msg.SampleRate
	}
	if err := format.Validate(); err != nil {
		return audio.Format{}, fmt.Errorf("start message: %w", err)
	}
	return format, nil
}

func writeError(conn *websocket.Conn, err error) {
	payload, merr := json.Marshal(map[string]string{"type": "error", "error": err.Error()})
	if merr != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, payload)
}

// wsTransport adapts one WebSocket connection to the session's transport
// port. The mutex serializes writes from the session goroutine and error
// paths.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) SendAudio(_ context.Context, chunk []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (t *wsTransport) SendEvent(_ context.Context, ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// ClearPlayback tells the client to drop buffered agent audio immediately.
func (t *wsTransport) ClearPlayback(ctx context.Context) error {
	return t.SendEvent(ctx, session.Event{Type: "clear_playback"})
}
