package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/pipeline"
	"github.com/voicegate/voicegate/internal/prompts"
	"github.com/voicegate/voicegate/internal/provider"
	"github.com/voicegate/voicegate/internal/session"
	"github.com/voicegate/voicegate/internal/store"
	"github.com/voicegate/voicegate/internal/telemetry"
	"github.com/voicegate/voicegate/internal/transport"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	var db *store.Store
	if cfg.databaseURL != "" {
		var err error
		db, err = store.Open(cfg.databaseURL)
		if err != nil {
			slog.Error("open store", "error", err)
			os.Exit(1)
		}
		slog.Info("store connected")
	} else {
		slog.Warn("DATABASE_URL not set, calls will not be persisted")
	}

	var (
		tracer    *telemetry.Tracer
		callStore session.CallStore
		agents    transport.AgentSource = staticAgents{agent: defaultAgent(cfg)}
	)
	if db != nil {
		tracer = telemetry.NewTracer(db)
		callStore = db
		agents = fallbackAgents{primary: db, fallback: defaultAgent(cfg)}
	}

	stt := provider.NewSTTClient(provider.STTConfig{
		APIKey:  cfg.sttAPIKey,
		BaseURL: cfg.sttBaseURL,
	})
	llm := provider.NewLLMClient(provider.LLMConfig{
		APIKey:      cfg.llmAPIKey,
		BaseURL:     cfg.llmBaseURL,
		Model:       cfg.llmModel,
		Temperature: cfg.llmTemperature,
	})
	tts := provider.NewTTSClient(provider.TTSConfig{
		APIKey:  cfg.ttsAPIKey,
		BaseURL: cfg.ttsBaseURL,
		ModelID: cfg.ttsModelID,
	})

	var telephony session.Telephony
	if cfg.telephonyURL != "" {
		telephony = provider.NewTelephonyClient(provider.TelephonyConfig{
			BaseURL:   cfg.telephonyURL,
			AuthToken: cfg.telephonyToken,
		})
	}

	tools := pipeline.NewToolRegistry()
	registerBuiltinTools(tools)

	handler := transport.NewHandler(transport.HandlerConfig{
		Agents:        agents,
		STT:           stt,
		LLM:           llm,
		TTS:           tts,
		Tools:         tools,
		Store:         callStore,
		Tracer:        tracer,
		Telephony:     telephony,
		MaxConcurrent: cfg.maxConcurrentCalls,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		db:        db,
		wsHandler: handler,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("voicegate starting", "addr", addr, "max_concurrent", cfg.maxConcurrentCalls, "llm_model", cfg.llmModel)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	tracer.Close()
	if db != nil {
		db.Close()
	}
	slog.Info("voicegate stopped")
}

// staticAgents serves one built-in agent when no database is configured.
type staticAgents struct {
	agent *agent.Agent
}

func (s staticAgents) LoadAgent(ctx context.Context, id string) (*agent.Agent, error) {
	return s.agent, nil
}

// fallbackAgents answers from the database but keeps calls connectable when
// the requested agent does not exist or the caller omits an agent id.
type fallbackAgents struct {
	primary  transport.AgentSource
	fallback *agent.Agent
}

func (f fallbackAgents) LoadAgent(ctx context.Context, id string) (*agent.Agent, error) {
	if id == "" {
		return f.fallback, nil
	}
	a, err := f.primary.LoadAgent(ctx, id)
	if err != nil {
		slog.Warn("agent lookup failed, using default", "agent_id", id, "error", err)
		return f.fallback, nil
	}
	return a, nil
}

func defaultAgent(cfg config) *agent.Agent {
	return &agent.Agent{
		ID:           "default",
		Name:         "Assistant",
		SystemPrompt: prompts.DefaultSystem,
		Greeting:     prompts.DefaultGreeting,
		SpeakFirst:   true,
		Voice: agent.VoiceConfig{
			Provider: "elevenlabs",
			VoiceID:  cfg.ttsVoiceID,
		},
		SilenceTimeout:     700 * time.Millisecond,
		MaxCallDuration:    30 * time.Minute,
		ContextWindowTurns: 20,
		EndPhrases:         []string{"goodbye", "bye bye", "hang up"},
	}
}

func registerBuiltinTools(reg *pipeline.ToolRegistry) {
	reg.Register(pipeline.Tool{
		Name:        "get_current_time",
		Description: "Returns the current date and time in UTC.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}, func(ctx context.Context, args json.RawMessage) (string, error) {
		return time.Now().UTC().Format(time.RFC1123), nil
	})
}
