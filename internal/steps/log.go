package steps

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Kind distinguishes memoized work from timed pauses.
type Kind string

const (
	KindRun   Kind = "run"
	KindSleep Kind = "sleep"
)

// Record is one completed step. Records are append-only.
type Record struct {
	RunID     string          `json:"run_id"`
	Name      string          `json:"name"`
	Kind      Kind            `json:"kind"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Log stores step records keyed by (run id, step name).
type Log interface {
	// Load returns the record for name in runID, if one was appended.
	Load(ctx context.Context, runID, name string) (Record, bool, error)
	// Append stores a completed step. Appending an existing key is an error
	// or a no-op depending on the implementation; it never overwrites.
	Append(ctx context.Context, rec Record) error
}

type logKey struct {
	runID string
	name  string
}

// MemoryLog is a process-local Log.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[logKey]Record
	order   []logKey
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[logKey]Record)}
}

func (l *MemoryLog) Load(ctx context.Context, runID, name string) (Record, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[logKey{runID, name}]
	return rec, ok, nil
}

func (l *MemoryLog) Append(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := logKey{rec.RunID, rec.Name}
	if _, exists := l.records[key]; exists {
		return nil
	}
	l.records[key] = rec
	l.order = append(l.order, key)
	return nil
}

// Records returns the records of one run in append order.
func (l *MemoryLog) Records(runID string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	for _, key := range l.order {
		if key.runID == runID {
			out = append(out, l.records[key])
		}
	}
	return out
}

// Names returns the step names of one run, sorted.
func (l *MemoryLog) Names(runID string) []string {
	recs := l.Records(runID)
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name
	}
	sort.Strings(names)
	return names
}
