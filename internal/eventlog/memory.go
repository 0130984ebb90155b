package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alphadose/haxmap"

	"github.com/ibbybuilds/aegra-go/events"
)

// MemoryLog keeps run histories in process memory. It backs tests and
// single-process deployments that can afford to lose replay state on
// restart.
type MemoryLog struct {
	runs *haxmap.Map[string, *memoryRun]
}

type memoryRun struct {
	mu     sync.RWMutex
	byID   map[string]struct{}
	events []StoredEvent
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{runs: haxmap.New[string, *memoryRun]()}
}

func (l *MemoryLog) StoreEvent(_ context.Context, runID, eventID, event string, data map[string]any) error {
	run, _ := l.runs.GetOrCompute(runID, func() *memoryRun {
		return &memoryRun{byID: map[string]struct{}{}}
	})

	run.mu.Lock()
	defer run.mu.Unlock()
	if _, exists := run.byID[eventID]; exists {
		return nil
	}
	run.byID[eventID] = struct{}{}
	run.events = append(run.events, StoredEvent{
		ID:        eventID,
		RunID:     runID,
		Seq:       events.SeqForStore(eventID),
		Event:     event,
		Data:      data,
		CreatedAt: time.Now(),
	})
	return nil
}

func (l *MemoryLog) GetAllEvents(ctx context.Context, runID string) ([]StoredEvent, error) {
	return l.GetEventsSince(ctx, runID, "")
}

func (l *MemoryLog) GetEventsSince(_ context.Context, runID, lastEventID string) ([]StoredEvent, error) {
	run, ok := l.runs.Get(runID)
	if !ok {
		return nil, nil
	}
	floor := events.SeqForResume(lastEventID)

	run.mu.RLock()
	out := make([]StoredEvent, 0, len(run.events))
	for _, ev := range run.events {
		if ev.Seq > floor {
			out = append(out, ev)
		}
	}
	run.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (l *MemoryLog) GetRunInfo(_ context.Context, runID string) (RunInfo, bool, error) {
	run, ok := l.runs.Get(runID)
	if !ok {
		return RunInfo{}, false, nil
	}

	run.mu.RLock()
	defer run.mu.RUnlock()
	if len(run.events) == 0 {
		return RunInfo{}, false, nil
	}

	first := run.events[0]
	minSeq, maxSeq := first.Seq, first.Seq
	last := first
	for _, ev := range run.events[1:] {
		if ev.Seq < minSeq {
			minSeq = ev.Seq
		}
		if ev.Seq > maxSeq {
			maxSeq = ev.Seq
			last = ev
		}
	}
	return RunInfo{
		RunID:         runID,
		EventCount:    maxSeq - minSeq + 1,
		LastEventID:   last.ID,
		LastEventTime: last.CreatedAt,
	}, true, nil
}

func (l *MemoryLog) CleanupEvents(_ context.Context, runID string) (int64, error) {
	run, ok := l.runs.Get(runID)
	if !ok {
		return 0, nil
	}
	run.mu.Lock()
	n := int64(len(run.events))
	run.mu.Unlock()
	l.runs.Del(runID)
	return n, nil
}

func (l *MemoryLog) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	l.runs.ForEach(func(_ string, run *memoryRun) bool {
		run.mu.Lock()
		kept := run.events[:0]
		for _, ev := range run.events {
			if ev.CreatedAt.Before(cutoff) {
				pruned++
				delete(run.byID, ev.ID)
				continue
			}
			kept = append(kept, ev)
		}
		run.events = kept
		run.mu.Unlock()
		return true
	})
	return pruned, nil
}

func (l *MemoryLog) Close() error { return nil }
