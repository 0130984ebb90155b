package events

// Status is the lifecycle status of a run, authoritatively set by the
// terminal End event.
type Status string

const (
	StatusRunning     Status = "running"
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
)

// Valid reports whether s is one of the known run statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusError, StatusInterrupted:
		return true
	}
	return false
}

// Event is the closed union of raw events a run's execution engine produces.
// Only types in this package implement it.
type Event interface {
	event()
	// Namespace returns the ordered sub-workflow identifiers that emitted
	// this event, or nil for the root workflow.
	Namespace() []string
}

// Values carries a full state snapshot chunk.
type Values struct {
	NS    []string
	Chunk any
}

// Messages carries a message chunk with optional provider metadata.
type Messages struct {
	NS    []string
	Chunk any
	Meta  map[string]any
}

// Updates carries an incremental state delta chunk.
type Updates struct {
	NS    []string
	Chunk any
}

// Debug carries engine-internal diagnostic output.
type Debug struct {
	NS    []string
	Chunk any
}

// Custom carries application-defined payloads emitted from inside a run.
type Custom struct {
	NS    []string
	Chunk any
}

// End is the terminal event for a run. At most one End is accepted per
// channel; everything after it is dropped.
type End struct {
	NS          []string
	Status      Status
	FinalOutput any
}

// Error reports an execution failure. It is not terminal by itself: the
// orchestrator follows it with End carrying StatusError.
type Error struct {
	NS      []string
	Kind    string
	Message string
}

func (Values) event()   {}
func (Messages) event() {}
func (Updates) event()  {}
func (Debug) event()    {}
func (Custom) event()   {}
func (End) event()      {}
func (Error) event()    {}

func (e Values) Namespace() []string   { return e.NS }
func (e Messages) Namespace() []string { return e.NS }
func (e Updates) Namespace() []string  { return e.NS }
func (e Debug) Namespace() []string    { return e.NS }
func (e Custom) Namespace() []string   { return e.NS }
func (e End) Namespace() []string      { return e.NS }
func (e Error) Namespace() []string    { return e.NS }

// IsTerminal reports whether ev closes the run's stream.
func IsTerminal(ev Event) bool {
	_, ok := ev.(End)
	return ok
}
