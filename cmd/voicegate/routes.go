package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/store"
)

// defaultCallListLimit is how many calls are returned when the caller
// omits the ?limit= query parameter.
const defaultCallListLimit = 20

type deps struct {
	db        *store.Store
	wsHandler http.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/call", d.wsHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	registerStoreRoutes(mux, d.db)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func registerStoreRoutes(mux *http.ServeMux, db *store.Store) {
	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			http.Error(w, "persistence disabled", http.StatusNotFound)
			return
		}
		agents, err := db.ListAgents(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"agents": agents})
	})

	mux.HandleFunc("POST /api/agents", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			http.Error(w, "persistence disabled", http.StatusNotFound)
			return
		}
		var a agent.Agent
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := db.SaveAgent(r.Context(), &a); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Info("agent saved", "agent_id", a.ID, "name", a.Name)
		writeJSON(w, &a)
	})

	mux.HandleFunc("GET /api/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			http.Error(w, "persistence disabled", http.StatusNotFound)
			return
		}
		a, err := db.LoadAgent(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, a)
	})

	mux.HandleFunc("GET /api/calls", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			http.Error(w, "persistence disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultCallListLimit)
		offset := queryInt(r, "offset", 0)
		calls, err := db.ListCalls(r.Context(), r.URL.Query().Get("agent_id"), limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"calls": calls})
	})

	mux.HandleFunc("GET /api/calls/{id}", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			http.Error(w, "persistence disabled", http.StatusNotFound)
			return
		}
		c, err := db.GetCall(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, c)
	})

	mux.HandleFunc("GET /api/calls/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			http.Error(w, "persistence disabled", http.StatusNotFound)
			return
		}
		events, err := db.ListEvents(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"events": events})
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
