package store

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicegate/voicegate/internal/call"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		require.True(t, strings.HasSuffix(e.Name(), ".sql"), "non-sql file %q", e.Name())
		names = append(names, e.Name())
	}
	// Applied in lexical order; the embedded dir must already be sorted.
	require.True(t, sort.StringsAreSorted(names))

	data, err := migrationFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "CREATE TABLE")
}

func finishedCall(t *testing.T) *call.Call {
	t.Helper()
	c := call.New("agent-1")
	require.NoError(t, c.Ring())
	require.NoError(t, c.Start())
	c.Metadata["provider_call_id"] = "CA123"
	c.Conversation.Append(call.RoleAssistant, "Hello, thanks for calling.")
	c.Conversation.Append(call.RoleUser, "what are your hours")
	c.Conversation.AppendToolCall("We are open nine to five.", json.RawMessage(`[{"name":"get_current_time"}]`))
	require.NoError(t, c.End())
	return c
}

func TestCallRowRoundTrip(t *testing.T) {
	c := finishedCall(t)

	row, err := encodeCall(c)
	require.NoError(t, err)
	got, err := row.decode()
	require.NoError(t, err)

	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.AgentID, got.AgentID)
	assert.Equal(t, call.StatusEnded, got.Status)
	assert.True(t, got.StartedAt.Equal(c.StartedAt), "started_at preserved")
	assert.True(t, got.EndedAt.Equal(c.EndedAt), "ended_at preserved")
	assert.Equal(t, c.Metadata, got.Metadata)

	turns := got.Conversation.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, call.RoleAssistant, turns[0].Role)
	assert.Equal(t, "Hello, thanks for calling.", turns[0].Content)
	assert.Equal(t, call.RoleUser, turns[1].Role)
	assert.Equal(t, "what are your hours", turns[1].Content)
	assert.Equal(t, "We are open nine to five.", turns[2].Content)
	assert.JSONEq(t, `[{"name":"get_current_time"}]`, string(turns[2].ToolCall))
}

func TestCallRowZeroTimestampsStayNull(t *testing.T) {
	c := call.New("agent-1")

	row, err := encodeCall(c)
	require.NoError(t, err)
	assert.False(t, row.started.Valid, "unstarted call maps to NULL started_at")
	assert.False(t, row.ended.Valid, "live call maps to NULL ended_at")

	got, err := row.decode()
	require.NoError(t, err)
	assert.True(t, got.StartedAt.IsZero())
	assert.True(t, got.EndedAt.IsZero())
	assert.Equal(t, call.StatusInitiated, got.Status)
}

// TestCallPersistenceRoundTrip exercises the real SQL path. It needs a
// reachable PostgreSQL and is skipped otherwise.
func TestCallPersistenceRoundTrip(t *testing.T) {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := Open(connStr)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := finishedCall(t)
	require.NoError(t, s.SaveCall(ctx, c))

	got, err := s.GetCall(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, got.Status)
	assert.WithinDuration(t, c.StartedAt, got.StartedAt, time.Millisecond)
	assert.WithinDuration(t, c.EndedAt, got.EndedAt, time.Millisecond)
	assert.Equal(t, c.Metadata, got.Metadata)

	want := c.Conversation.Turns()
	turns := got.Conversation.Turns()
	require.Len(t, turns, len(want))
	for i := range want {
		assert.Equal(t, want[i].Role, turns[i].Role)
		assert.Equal(t, want[i].Content, turns[i].Content)
	}
}
