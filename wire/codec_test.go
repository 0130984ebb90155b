package wire

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ibbybuilds/aegra-go/events"
)

// roundTrip pushes a value through encode, a JSON text round trip and decode,
// the exact path a payload takes across a distributed channel.
func roundTrip(t *testing.T, v any) any {
	t.Helper()
	encoded := EncodePayload(v)
	b, err := json.Marshal(encoded)
	require.NoError(t, err)
	var back any
	require.NoError(t, json.Unmarshal(b, &back))
	return DecodePayload(back)
}

func TestPayloadRoundTripScalars(t *testing.T) {
	assert.Equal(t, nil, roundTrip(t, nil))
	assert.Equal(t, true, roundTrip(t, true))
	assert.Equal(t, "hello", roundTrip(t, "hello"))
	// JSON numbers decode as float64.
	assert.Equal(t, float64(42), roundTrip(t, 42))
	assert.Equal(t, 3.5, roundTrip(t, 3.5))
}

func TestPayloadRoundTripTupleStaysTuple(t *testing.T) {
	v := Tuple{"end", map[string]any{"status": "success"}}
	got := roundTrip(t, v)

	tup, ok := got.(Tuple)
	require.True(t, ok, "tuple decoded as %T", got)
	require.Len(t, tup, 2)
	assert.Equal(t, "end", tup[0])
	assert.Equal(t, map[string]any{"status": "success"}, tup[1])
}

func TestPayloadRoundTripListStaysList(t *testing.T) {
	got := roundTrip(t, []any{"a", "b"})
	_, isTuple := got.(Tuple)
	assert.False(t, isTuple)
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestPayloadRoundTripNested(t *testing.T) {
	v := map[string]any{
		"list":  []any{float64(1), "two", nil},
		"tuple": Tuple{true, Tuple{"inner", float64(9)}},
		"map":   map[string]any{"deep": map[string]any{"leaf": "v"}},
	}
	assert.Equal(t, v, roundTrip(t, v))
}

func TestPayloadOpaqueFallback(t *testing.T) {
	// Channels cannot be marshalled; the codec must degrade to an opaque
	// form instead of erroring.
	encoded := EncodePayload(map[string]any{"ch": make(chan int)})
	items := encoded["items"].(map[string]any)
	assert.Equal(t, tagOpaque, items["ch"].(map[string]any)[typeKey])

	// Decoding an opaque value yields a string, never panics.
	decoded := DecodePayload(encoded)
	m, ok := decoded.(map[string]any)
	require.True(t, ok)
	_, isString := m["ch"].(string)
	assert.True(t, isString)
}

func TestPayloadStructsEncodeAsJSONShape(t *testing.T) {
	type point struct {
		X int    `json:"x"`
		Y string `json:"y"`
	}
	got := roundTrip(t, point{X: 3, Y: "up"})
	assert.Equal(t, map[string]any{"x": float64(3), "y": "up"}, got)
}

func TestPayloadUntaggedPassThrough(t *testing.T) {
	// Plain JSON without discriminants survives decoding untouched apart
	// from recursion into its values.
	assert.Equal(t, map[string]any{"k": "v"}, DecodePayload(map[string]any{"k": "v"}))
	assert.Equal(t, "str", DecodePayload("str"))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
	}{
		{"values", events.Values{Chunk: map[string]any{"state": float64(1)}}},
		{"messages with meta", events.Messages{
			NS:    []string{"outer", "inner"},
			Chunk: map[string]any{"content": "hi"},
			Meta:  map[string]any{"node": "llm"},
		}},
		{"updates", events.Updates{Chunk: []any{"delta"}}},
		{"debug", events.Debug{Chunk: "trace"}},
		{"custom tuple", events.Custom{Chunk: Tuple{"progress", float64(50)}}},
		{"end", events.End{Status: events.StatusSuccess, FinalOutput: map[string]any{"answer": "42"}}},
		{"error", events.Error{Kind: "engine", Message: "boom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := MarshalEnvelope("run1_event_3", tt.ev)
			require.NoError(t, err)

			assert.Equal(t, "run1_event_3", gjson.GetBytes(b, "event_id").String())

			id, back, err := UnmarshalEnvelope(b)
			require.NoError(t, err)
			assert.Equal(t, "run1_event_3", id)
			assert.Equal(t, tt.ev, back)
		})
	}
}

func TestEnvelopeRejectsUnknownKind(t *testing.T) {
	_, _, err := UnmarshalEnvelope([]byte(`{"event_id":"x","payload":{"kind":"nope"}}`))
	assert.Error(t, err)
}

func TestEnvelopeRejectsGarbage(t *testing.T) {
	_, _, err := UnmarshalEnvelope([]byte("not json"))
	assert.Error(t, err)
}
