package wire

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ibbybuilds/aegra-go/events"
)

// Frame is one outward text frame of a run's stream: an event id, an event
// name (optionally suffixed with the "|"-joined namespace path) and a JSON
// data document. Socket I/O belongs to the HTTP layer; a Frame only knows
// how to render itself.
type Frame struct {
	ID    string
	Event string
	Data  []byte
}

// String renders the frame in server-sent-event text form.
func (f Frame) String() string {
	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(f.Event)
	sb.WriteByte('\n')
	if f.ID != "" {
		sb.WriteString("id: ")
		sb.WriteString(f.ID)
		sb.WriteByte('\n')
	}
	sb.WriteString("data: ")
	sb.Write(f.Data)
	sb.WriteString("\n\n")
	return sb.String()
}

// EventName returns the wire name for an event: the kind, suffixed with the
// namespace path when the event came from a nested sub-workflow, e.g.
// "values|outer|inner".
func EventName(ev events.Event) string {
	var kind string
	switch ev.(type) {
	case events.Values:
		kind = "values"
	case events.Messages:
		kind = "messages"
	case events.Updates:
		kind = "updates"
	case events.Debug:
		kind = "debug"
	case events.Custom:
		kind = "custom"
	case events.End:
		kind = "end"
	case events.Error:
		kind = "error"
	default:
		kind = "unknown"
	}
	if ns := ev.Namespace(); len(ns) > 0 {
		return kind + "|" + strings.Join(ns, "|")
	}
	return kind
}

// Normalize classifies a raw event into its wire name and a self-describing
// JSON record. The same record is written to the event log and rendered on
// live frames, so a replayed stream is indistinguishable from a live one.
func Normalize(ev events.Event) (string, map[string]any) {
	name := EventName(ev)
	switch e := ev.(type) {
	case events.Values:
		return name, map[string]any{"type": "execution_values", "chunk": e.Chunk, "node_path": e.NS}
	case events.Messages:
		return name, map[string]any{"type": "messages_stream", "message_chunk": e.Chunk, "metadata": e.Meta, "node_path": e.NS}
	case events.Updates:
		return name, map[string]any{"type": "execution_updates", "chunk": e.Chunk, "node_path": e.NS}
	case events.Debug:
		return name, map[string]any{"type": "execution_debug", "chunk": e.Chunk, "node_path": e.NS}
	case events.Custom:
		return name, map[string]any{"type": "custom_stream", "chunk": e.Chunk, "node_path": e.NS}
	case events.End:
		return name, map[string]any{"type": "run_complete", "status": string(e.Status), "final_output": e.FinalOutput}
	case events.Error:
		return name, map[string]any{"type": "run_error", "error_kind": e.Kind, "message": e.Message}
	default:
		return name, map[string]any{"type": "unknown"}
	}
}

// NewFrame builds a frame from an already-normalized record.
func NewFrame(id, event string, data any) (Frame, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal frame data for event %s: %w", id, err)
	}
	return Frame{ID: id, Event: event, Data: b}, nil
}

// LiveFrame encodes a raw event coming off a channel into its wire frame.
func LiveFrame(eventID string, ev events.Event) (Frame, error) {
	name, record := Normalize(ev)
	return NewFrame(eventID, name, record)
}

// MetadataFrame is the first frame of every stream; it tells the client
// which run it is attached to.
func MetadataFrame(runID string, attempt int) Frame {
	f, err := NewFrame(runID+"_metadata", "metadata", map[string]any{
		"run_id":  runID,
		"attempt": attempt,
	})
	if err != nil {
		// The record above is always JSON-safe.
		panic(err)
	}
	return f
}
