package events

import (
	"fmt"
	"strconv"
	"strings"
)

const eventIDSep = "_event_"

// FormatEventID builds the canonical event id for the nth event of a run:
// "{runID}_event_{n}".
func FormatEventID(runID string, seq int64) string {
	return fmt.Sprintf("%s%s%d", runID, eventIDSep, seq)
}

// ParseEventID extracts the sequence number from an event id. The second
// return value is false when the id does not follow the canonical format.
//
// Every component that needs a sequence number goes through this function,
// so the live counter and the event log can never disagree on how an id is
// read.
func ParseEventID(eventID string) (int64, bool) {
	idx := strings.LastIndex(eventID, eventIDSep)
	if idx < 0 {
		return 0, false
	}
	seq, err := strconv.ParseInt(eventID[idx+len(eventIDSep):], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// SeqForStore returns the sequence to persist for an event id. Malformed ids
// store as sequence 0 rather than failing the write.
func SeqForStore(eventID string) int64 {
	seq, ok := ParseEventID(eventID)
	if !ok {
		return 0
	}
	return seq
}

// SeqForResume returns the replay floor for a client-supplied last event id.
// Malformed ids resume from the beginning (floor -1, everything replays).
func SeqForResume(lastEventID string) int64 {
	seq, ok := ParseEventID(lastEventID)
	if !ok {
		return -1
	}
	return seq
}
