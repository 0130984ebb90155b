package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(End{Status: StatusSuccess}))
	assert.True(t, IsTerminal(End{Status: StatusInterrupted}))

	// Error alone does not terminate the stream; the orchestrator follows it
	// with End(StatusError).
	assert.False(t, IsTerminal(Error{Kind: "engine", Message: "boom"}))
	assert.False(t, IsTerminal(Values{Chunk: map[string]any{"k": "v"}}))
	assert.False(t, IsTerminal(Messages{Chunk: "hello"}))
	assert.False(t, IsTerminal(Updates{Chunk: 1}))
	assert.False(t, IsTerminal(Debug{Chunk: nil}))
	assert.False(t, IsTerminal(Custom{Chunk: []any{"a"}}))
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusRunning, StatusSuccess, StatusError, StatusInterrupted} {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("done").Valid())
	assert.False(t, Status("").Valid())
}

func TestNamespace(t *testing.T) {
	ns := []string{"outer", "inner"}
	assert.Equal(t, ns, Values{NS: ns}.Namespace())
	assert.Equal(t, ns, End{NS: ns, Status: StatusSuccess}.Namespace())
	assert.Nil(t, Messages{Chunk: "x"}.Namespace())
}
