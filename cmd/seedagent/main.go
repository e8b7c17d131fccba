// Command seedagent creates or updates an agent row so a fresh deployment
// has something to answer calls with.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/prompts"
	"github.com/voicegate/voicegate/internal/store"
)

func main() {
	db := flag.String("db", envOr("DATABASE_URL", ""), "Postgres connection string")
	id := flag.String("id", "default", "agent id")
	name := flag.String("name", "Assistant", "agent display name")
	systemPrompt := flag.String("system-prompt", "", "system prompt (default built-in)")
	greeting := flag.String("greeting", "", "greeting spoken at call start (default built-in)")
	speakFirst := flag.Bool("speak-first", true, "agent speaks before the caller")
	voiceProvider := flag.String("voice-provider", "elevenlabs", "synthesis provider")
	voiceID := flag.String("voice-id", "21m00Tcm4TlvDq8ikWAM", "synthesis voice id")
	silenceMs := flag.Int("silence-ms", 700, "silence duration that ends a caller turn")
	maxCallMin := flag.Int("max-call-min", 30, "hard call duration cap in minutes, 0 for none")
	contextTurns := flag.Int("context-turns", 20, "conversation turns sent to the model, 0 for all")
	endPhrases := flag.String("end-phrases", "goodbye,bye bye,hang up", "comma-separated phrases that end the call")
	flag.Parse()

	if *db == "" {
		fmt.Fprintln(os.Stderr, "usage: seedagent --db postgres://... [flags]")
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	s, err := store.Open(*db)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	a := &agent.Agent{
		ID:                 *id,
		Name:               *name,
		SystemPrompt:       prompts.ForAgent(*systemPrompt),
		Greeting:           *greeting,
		SpeakFirst:         *speakFirst,
		SilenceTimeout:     time.Duration(*silenceMs) * time.Millisecond,
		MaxCallDuration:    time.Duration(*maxCallMin) * time.Minute,
		ContextWindowTurns: *contextTurns,
		EndPhrases:         splitPhrases(*endPhrases),
		Voice: agent.VoiceConfig{
			Provider: *voiceProvider,
			VoiceID:  *voiceID,
		},
	}
	if a.SpeakFirst && a.Greeting == "" {
		a.Greeting = prompts.DefaultGreeting
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.SaveAgent(ctx, a); err != nil {
		slog.Error("save agent", "error", err)
		os.Exit(1)
	}

	slog.Info("agent seeded", "agent_id", a.ID, "name", a.Name, "voice", a.Voice.VoiceID)
}

func splitPhrases(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
