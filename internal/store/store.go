// Package store persists agents, completed calls, and call events to
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver

	"github.com/voicegate/voicegate/internal/agent"
	"github.com/voicegate/voicegate/internal/call"
	"github.com/voicegate/voicegate/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL at connStr and applies pending migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAgent upserts one agent configuration.
func (s *Store) SaveAgent(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	config, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, config, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET name = $2, config = $3, updated_at = now()
	`, a.ID, a.Name, config)
	return err
}

// LoadAgent fetches one agent configuration by id.
func (s *Store) LoadAgent(ctx context.Context, id string) (*agent.Agent, error) {
	var config []byte
	err := s.db.QueryRowContext(ctx, `SELECT config FROM agents WHERE id = $1`, id).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agent %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var a agent.Agent
	if err = json.Unmarshal(config, &a); err != nil {
		return nil, fmt.Errorf("unmarshal agent %q: %w", id, err)
	}
	return &a, nil
}

// ListAgents returns all agent configurations, newest first.
func (s *Store) ListAgents(ctx context.Context) ([]*agent.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM agents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		var config []byte
		if err = rows.Scan(&config); err != nil {
			return nil, err
		}
		var a agent.Agent
		if err = json.Unmarshal(config, &a); err != nil {
			return nil, fmt.Errorf("unmarshal agent: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// callRow mirrors the calls table columns. Encoding and decoding live on it
// so the mapping of statuses, nullable timestamps, and JSONB payloads can be
// exercised without a database.
type callRow struct {
	id           string
	agentID      string
	status       string
	started      sql.NullTime
	ended        sql.NullTime
	metadata     []byte
	conversation []byte
}

func encodeCall(c *call.Call) (callRow, error) {
	r := callRow{id: c.ID, agentID: c.AgentID, status: string(c.Status)}
	var err error
	if r.metadata, err = json.Marshal(c.Metadata); err != nil {
		return callRow{}, fmt.Errorf("marshal call metadata: %w", err)
	}
	if r.conversation, err = json.Marshal(c.Conversation); err != nil {
		return callRow{}, fmt.Errorf("marshal conversation: %w", err)
	}
	if !c.StartedAt.IsZero() {
		r.started = sql.NullTime{Time: c.StartedAt.UTC(), Valid: true}
	}
	if !c.EndedAt.IsZero() {
		r.ended = sql.NullTime{Time: c.EndedAt.UTC(), Valid: true}
	}
	return r, nil
}

func (r callRow) decode() (*call.Call, error) {
	c := &call.Call{ID: r.id, AgentID: r.agentID, Status: call.Status(r.status)}
	if r.started.Valid {
		c.StartedAt = r.started.Time
	}
	if r.ended.Valid {
		c.EndedAt = r.ended.Time
	}
	if err := json.Unmarshal(r.metadata, &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal call metadata: %w", err)
	}
	c.Conversation = call.NewConversation()
	if err := json.Unmarshal(r.conversation, c.Conversation); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return c, nil
}

// SaveCall upserts one call with its full conversation.
func (s *Store) SaveCall(ctx context.Context, c *call.Call) error {
	r, err := encodeCall(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls (id, agent_id, status, started_at, ended_at, metadata, conversation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = $3, started_at = $4, ended_at = $5, metadata = $6, conversation = $7
	`, r.id, r.agentID, r.status, r.started, r.ended, r.metadata, r.conversation)
	return err
}

// GetCall fetches one call with its conversation restored in order.
func (s *Store) GetCall(ctx context.Context, id string) (*call.Call, error) {
	var r callRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, status, started_at, ended_at, metadata, conversation
		FROM calls WHERE id = $1
	`, id).Scan(&r.id, &r.agentID, &r.status, &r.started, &r.ended, &r.metadata, &r.conversation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: call %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return r.decode()
}

// CallSummary is one row of the call listing.
type CallSummary struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ListCalls returns call summaries for an agent, newest first. Empty agentID
// lists across all agents.
func (s *Store) ListCalls(ctx context.Context, agentID string, limit, offset int) ([]CallSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, status, started_at, ended_at
		FROM calls
		WHERE ($1 = '' OR agent_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, agentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []CallSummary
	for rows.Next() {
		var (
			cs             CallSummary
			started, ended sql.NullTime
		)
		if err = rows.Scan(&cs.ID, &cs.AgentID, &cs.Status, &started, &ended); err != nil {
			return nil, err
		}
		if started.Valid {
			t := started.Time
			cs.StartedAt = &t
		}
		if ended.Valid {
			t := ended.Time
			cs.EndedAt = &t
		}
		calls = append(calls, cs)
	}
	return calls, rows.Err()
}

// WriteEvent persists one telemetry event.
func (s *Store) WriteEvent(ctx context.Context, ev telemetry.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_events (id, call_id, kind, utterance, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.CallID, ev.Kind, ev.Utterance, ev.Detail, ev.At.UTC())
	return err
}

// ListEvents returns a call's events in time order.
func (s *Store) ListEvents(ctx context.Context, callID string) ([]telemetry.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, kind, utterance, detail, at
		FROM call_events WHERE call_id = $1 ORDER BY at ASC
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var ev telemetry.Event
		if err = rows.Scan(&ev.ID, &ev.CallID, &ev.Kind, &ev.Utterance, &ev.Detail, &ev.At); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
