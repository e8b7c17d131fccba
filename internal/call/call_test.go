package call

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallLifecycle(t *testing.T) {
	c := New("agt_1")
	require.Equal(t, StatusInitiated, c.Status)
	require.NotEmpty(t, c.ID)

	require.NoError(t, c.Ring())
	require.Equal(t, StatusRinging, c.Status)

	require.NoError(t, c.Start())
	require.Equal(t, StatusActive, c.Status)
	assert.False(t, c.StartedAt.IsZero())

	require.NoError(t, c.End())
	require.Equal(t, StatusEnded, c.Status)
	assert.False(t, c.EndedAt.IsZero())
	assert.GreaterOrEqual(t, c.Duration().Nanoseconds(), int64(0))
}

func TestCallStartFromInitiated(t *testing.T) {
	c := New("agt_1")
	require.NoError(t, c.Start())
	assert.Equal(t, StatusActive, c.Status)
}

func TestCallInvalidTransitions(t *testing.T) {
	t.Run("double start", func(t *testing.T) {
		c := New("agt_1")
		require.NoError(t, c.Start())
		err := c.Start()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})

	t.Run("end from initiated", func(t *testing.T) {
		c := New("agt_1")
		err := c.End()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})

	t.Run("start after end", func(t *testing.T) {
		c := New("agt_1")
		require.NoError(t, c.Start())
		require.NoError(t, c.End())
		assert.Error(t, c.Start())
	})

	t.Run("ring after start", func(t *testing.T) {
		c := New("agt_1")
		require.NoError(t, c.Start())
		assert.Error(t, c.Ring())
	})
}

func TestCallDurationDerived(t *testing.T) {
	c := New("agt_1")
	assert.Zero(t, c.Duration(), "duration before start should be zero")
}

func TestConversationAppendOnly(t *testing.T) {
	conv := NewConversation()
	conv.Append(RoleUser, "quiero una cita")
	conv.Append(RoleAssistant, "claro, ¿para cuándo?")

	turns := conv.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, RoleAssistant, turns[1].Role)

	// Mutating the returned slice must not affect the stored history.
	turns[0].Content = "mutated"
	assert.Equal(t, "quiero una cita", conv.Turns()[0].Content)
}

func TestConversationWindow(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < 6; i++ {
		conv.Append(RoleUser, "u")
		conv.Append(RoleAssistant, "a")
	}

	assert.Len(t, conv.Window(4), 4)
	assert.Len(t, conv.Window(0), 12, "zero window means full history")
	assert.Len(t, conv.Window(100), 12)
	assert.Equal(t, 12, conv.Len(), "windowing must not mutate history")
}

func TestConversationJSONRoundTrip(t *testing.T) {
	conv := NewConversation()
	conv.Append(RoleUser, "hola")
	conv.AppendToolCall("booked", json.RawMessage(`{"tool":"book_slot"}`))

	data, err := json.Marshal(conv)
	require.NoError(t, err)

	restored := NewConversation()
	require.NoError(t, json.Unmarshal(data, restored))
	require.Equal(t, conv.Len(), restored.Len())
	assert.Equal(t, conv.Turns()[0].Content, restored.Turns()[0].Content)
	assert.JSONEq(t, `{"tool":"book_slot"}`, string(restored.Turns()[1].ToolCall))
}
