// Package telemetry records call lifecycle events without blocking the call
// path. Writes go through a buffered channel to a background goroutine.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voicegate/voicegate/internal/call"
)

// Event is one recorded call lifecycle moment.
type Event struct {
	ID        string
	CallID    string
	Kind      string
	Utterance uint64
	Detail    string
	At        time.Time
}

// EventWriter persists telemetry events.
type EventWriter interface {
	WriteEvent(ctx context.Context, ev Event) error
}

// Tracer buffers call events and writes them asynchronously. All methods are
// nil-safe (no-op on nil receiver), so call paths never guard for telemetry
// being disabled.
type Tracer struct {
	writer EventWriter
	ch     chan Event
	done   chan struct{}
}

// NewTracer starts the background writer. Call Close when the process stops.
func NewTracer(writer EventWriter) *Tracer {
	t := &Tracer{
		writer: writer,
		ch:     make(chan Event, 128),
		done:   make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for ev := range t.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := t.writer.WriteEvent(ctx, ev); err != nil {
			slog.Warn("telemetry write failed", "kind", ev.Kind, "call_id", ev.CallID, "error", err)
		}
		cancel()
	}
}

func (t *Tracer) record(ev Event) {
	ev.ID = uuid.NewString()
	ev.At = time.Now().UTC()
	select {
	case t.ch <- ev:
	default:
		// Telemetry never blocks a call; drop under pressure.
	}
}

// CallStarted records call answer.
func (t *Tracer) CallStarted(c *call.Call) {
	if t == nil {
		return
	}
	t.record(Event{CallID: c.ID, Kind: "call_started", Detail: c.AgentID})
}

// TurnCompleted records one finished assistant utterance.
func (t *Tracer) TurnCompleted(c *call.Call, utterance uint64) {
	if t == nil {
		return
	}
	t.record(Event{CallID: c.ID, Kind: "turn_completed", Utterance: utterance})
}

// BargeIn records the caller interrupting an assistant utterance.
func (t *Tracer) BargeIn(c *call.Call, utterance uint64) {
	if t == nil {
		return
	}
	t.record(Event{CallID: c.ID, Kind: "barge_in", Utterance: utterance})
}

// CallEnded records teardown with its reason.
func (t *Tracer) CallEnded(c *call.Call, reason string) {
	if t == nil {
		return
	}
	t.record(Event{CallID: c.ID, Kind: "call_ended", Detail: reason})
}

// Close flushes pending writes and stops the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}
