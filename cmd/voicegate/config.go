package main

import (
	"os"
	"strconv"
)

type config struct {
	port               string
	databaseURL        string
	maxConcurrentCalls int

	sttAPIKey  string
	sttBaseURL string

	llmAPIKey      string
	llmBaseURL     string
	llmModel       string
	llmTemperature float64

	ttsAPIKey  string
	ttsBaseURL string
	ttsModelID string
	ttsVoiceID string

	telephonyURL   string
	telephonyToken string
}

func loadConfig() config {
	return config{
		port:               envStr("VOICEGATE_PORT", "8000"),
		databaseURL:        envStr("DATABASE_URL", ""),
		maxConcurrentCalls: envInt("MAX_CONCURRENT_CALLS", 100),

		sttAPIKey:  envStr("STT_API_KEY", ""),
		sttBaseURL: envStr("STT_BASE_URL", ""),

		llmAPIKey:      envStr("LLM_API_KEY", ""),
		llmBaseURL:     envStr("LLM_BASE_URL", ""),
		llmModel:       envStr("LLM_MODEL", "gpt-4o-mini"),
		llmTemperature: envFloat("LLM_TEMPERATURE", 0.7),

		ttsAPIKey:  envStr("TTS_API_KEY", ""),
		ttsBaseURL: envStr("TTS_BASE_URL", ""),
		ttsModelID: envStr("TTS_MODEL_ID", ""),
		ttsVoiceID: envStr("TTS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),

		telephonyURL:   envStr("TELEPHONY_URL", ""),
		telephonyToken: envStr("TELEPHONY_TOKEN", ""),
	}
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}
