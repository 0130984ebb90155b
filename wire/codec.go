package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ibbybuilds/aegra-go/events"
)

// Tuple is a fixed-arity sequence. The payload codec preserves the
// tuple/list distinction across a JSON round trip, so a decoded Tuple is
// always a Tuple and never a plain []any.
type Tuple []any

const typeKey = "__type__"

const (
	tagTuple  = "tuple"
	tagList   = "list"
	tagMap    = "map"
	tagScalar = "scalar"
	tagOpaque = "opaque"
)

// EncodePayload converts an arbitrary value into a JSON-safe structure with
// shape discriminants. Values that are not JSON-mappable are captured as an
// opaque base64 string rather than rejected.
func EncodePayload(v any) map[string]any {
	switch val := v.(type) {
	case nil:
		return map[string]any{typeKey: tagScalar, "value": nil}
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return map[string]any{typeKey: tagScalar, "value": val}
	case Tuple:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = EncodePayload(item)
		}
		return map[string]any{typeKey: tagTuple, "items": items}
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = EncodePayload(item)
		}
		return map[string]any{typeKey: tagList, "items": items}
	case map[string]any:
		items := make(map[string]any, len(val))
		for k, item := range val {
			items[k] = EncodePayload(item)
		}
		return map[string]any{typeKey: tagMap, "items": items}
	default:
		return encodeFallback(v)
	}
}

// encodeFallback reduces a non-mappable value to JSON-safe form by going
// through a JSON round trip, and to an opaque base64 string when even that
// fails.
func encodeFallback(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		raw := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%+v", v)))
		return map[string]any{typeKey: tagOpaque, "data": raw}
	}
	var plain any
	if err := json.Unmarshal(b, &plain); err != nil {
		raw := base64.StdEncoding.EncodeToString(b)
		return map[string]any{typeKey: tagOpaque, "data": raw}
	}
	return EncodePayload(plain)
}

// DecodePayload reverses EncodePayload. Untagged values pass through
// unchanged so the decoder tolerates plain JSON from older producers.
func DecodePayload(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	tag, _ := m[typeKey].(string)
	switch tag {
	case tagScalar:
		return m["value"]
	case tagTuple:
		items, _ := m["items"].([]any)
		out := make(Tuple, len(items))
		for i, item := range items {
			out[i] = DecodePayload(item)
		}
		return out
	case tagList:
		items, _ := m["items"].([]any)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = DecodePayload(item)
		}
		return out
	case tagMap:
		items, _ := m["items"].(map[string]any)
		out := make(map[string]any, len(items))
		for k, item := range items {
			out[k] = DecodePayload(item)
		}
		return out
	case tagOpaque:
		raw, _ := m["data"].(string)
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return raw
		}
		return string(decoded)
	default:
		// No discriminant: decode values and keep the mapping to avoid
		// data loss.
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = DecodePayload(item)
		}
		return out
	}
}

// Envelope is the message published on a per-run channel by the distributed
// backends.
type Envelope struct {
	EventID string         `json:"event_id"`
	Payload map[string]any `json:"payload"`
}

// MarshalEnvelope encodes a channel event for pub/sub transport.
func MarshalEnvelope(eventID string, ev events.Event) ([]byte, error) {
	payload, err := encodeEvent(ev)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(Envelope{EventID: eventID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope for event %s: %w", eventID, err)
	}
	return b, nil
}

// UnmarshalEnvelope decodes a pub/sub message back into an event id and the
// original event.
func UnmarshalEnvelope(data []byte) (string, events.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	ev, err := decodeEvent(env.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode envelope payload for event %s: %w", env.EventID, err)
	}
	return env.EventID, ev, nil
}

func encodeEvent(ev events.Event) (map[string]any, error) {
	payload := map[string]any{"ns": ev.Namespace()}
	switch e := ev.(type) {
	case events.Values:
		payload["kind"] = "values"
		payload["chunk"] = EncodePayload(e.Chunk)
	case events.Messages:
		payload["kind"] = "messages"
		payload["chunk"] = EncodePayload(e.Chunk)
		payload["meta"] = EncodePayload(e.Meta)
	case events.Updates:
		payload["kind"] = "updates"
		payload["chunk"] = EncodePayload(e.Chunk)
	case events.Debug:
		payload["kind"] = "debug"
		payload["chunk"] = EncodePayload(e.Chunk)
	case events.Custom:
		payload["kind"] = "custom"
		payload["chunk"] = EncodePayload(e.Chunk)
	case events.End:
		payload["kind"] = "end"
		payload["status"] = string(e.Status)
		payload["final_output"] = EncodePayload(e.FinalOutput)
	case events.Error:
		payload["kind"] = "error"
		payload["error_kind"] = e.Kind
		payload["message"] = e.Message
	default:
		return nil, fmt.Errorf("unknown event type: %T", ev)
	}
	return payload, nil
}

func decodeEvent(payload map[string]any) (events.Event, error) {
	kind, _ := payload["kind"].(string)
	ns := decodeNamespace(payload["ns"])

	switch kind {
	case "values":
		return events.Values{NS: ns, Chunk: DecodePayload(payload["chunk"])}, nil
	case "messages":
		meta, _ := DecodePayload(payload["meta"]).(map[string]any)
		return events.Messages{NS: ns, Chunk: DecodePayload(payload["chunk"]), Meta: meta}, nil
	case "updates":
		return events.Updates{NS: ns, Chunk: DecodePayload(payload["chunk"])}, nil
	case "debug":
		return events.Debug{NS: ns, Chunk: DecodePayload(payload["chunk"])}, nil
	case "custom":
		return events.Custom{NS: ns, Chunk: DecodePayload(payload["chunk"])}, nil
	case "end":
		status, _ := payload["status"].(string)
		return events.End{NS: ns, Status: events.Status(status), FinalOutput: DecodePayload(payload["final_output"])}, nil
	case "error":
		errKind, _ := payload["error_kind"].(string)
		message, _ := payload["message"].(string)
		return events.Error{NS: ns, Kind: errKind, Message: message}, nil
	default:
		return nil, fmt.Errorf("unknown event kind: %q", kind)
	}
}

func decodeNamespace(v any) []string {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	ns := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			ns = append(ns, s)
		}
	}
	return ns
}
