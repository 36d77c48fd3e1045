// Package steps gives every side-effecting operation of a run a stable name and
// memoizes its result in an append-only log, so a resumed run never repeats a
// completed side effect.
package steps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"agentforge/internal/logging"
)

// ErrStepKindMismatch is returned when one name is reused for a different kind of step.
var ErrStepKindMismatch = errors.New("step name reused for a different kind")

// Sleeper suspends for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper waits on a real timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InstantSleeper returns immediately. Tests and dry runs use it.
type InstantSleeper struct{}

func (InstantSleeper) Sleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// Executor runs the named steps of one run.
type Executor struct {
	runID   string
	log     Log
	sleeper Sleeper

	mu   sync.Mutex
	seen map[string]Kind

	replayed atomic.Int64
	executed atomic.Int64
	slept    atomic.Int64 // total requested sleep, nanoseconds
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper overrides the default TimerSleeper.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleeper = s }
}

// NewExecutor returns an executor bound to runID.
func NewExecutor(runID string, log Log, opts ...Option) *Executor {
	e := &Executor{
		runID:   runID,
		log:     log,
		sleeper: TimerSleeper{},
		seen:    make(map[string]Kind),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunID returns the run this executor is bound to.
func (e *Executor) RunID() string { return e.runID }

// Replayed counts steps answered from the log.
func (e *Executor) Replayed() int64 { return e.replayed.Load() }

// Executed counts steps that actually ran.
func (e *Executor) Executed() int64 { return e.executed.Load() }

// Slept returns the total duration actually slept by this executor.
func (e *Executor) Slept() time.Duration { return time.Duration(e.slept.Load()) }

func (e *Executor) claim(name string, kind Kind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.seen[name]; ok && prev != kind {
		return fmt.Errorf("%w: %s (%s vs %s)", ErrStepKindMismatch, name, prev, kind)
	}
	e.seen[name] = kind
	return nil
}

// load returns a prior record for name, validating its kind.
func (e *Executor) load(ctx context.Context, name string, kind Kind) (Record, bool, error) {
	if err := e.claim(name, kind); err != nil {
		return Record{}, false, err
	}
	rec, ok, err := e.log.Load(ctx, e.runID, name)
	if err != nil {
		return Record{}, false, fmt.Errorf("load step %s: %w", name, err)
	}
	if ok && rec.Kind != kind {
		return Record{}, false, fmt.Errorf("%w: %s (%s vs %s)", ErrStepKindMismatch, name, rec.Kind, kind)
	}
	return rec, ok, nil
}

// Run executes fn once per (run, name) and records its JSON-encoded result.
// On replay the recorded result is decoded and fn is not called.
// A failing fn is not recorded.
func Run[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	rec, ok, err := e.load(ctx, name, KindRun)
	if err != nil {
		return zero, err
	}
	if ok {
		var out T
		if len(rec.Result) > 0 {
			if err := json.Unmarshal(rec.Result, &out); err != nil {
				return zero, fmt.Errorf("decode step %s: %w", name, err)
			}
		}
		e.replayed.Add(1)
		logging.StepsDebug("[%s] replayed step %s", e.runID, name)
		return out, nil
	}

	out, err := fn(ctx)
	if err != nil {
		logging.StepsDebug("[%s] step %s failed (not recorded): %v", e.runID, name, err)
		return zero, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("encode step %s: %w", name, err)
	}
	if err := e.log.Append(ctx, Record{
		RunID:     e.runID,
		Name:      name,
		Kind:      KindRun,
		Result:    data,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return zero, fmt.Errorf("record step %s: %w", name, err)
	}

	e.executed.Add(1)
	logging.StepsDebug("[%s] executed step %s", e.runID, name)
	return out, nil
}

// Sleep suspends the run for d under a step name. Replaying a completed
// sleep returns immediately.
func (e *Executor) Sleep(ctx context.Context, name string, d time.Duration) error {
	_, ok, err := e.load(ctx, name, KindSleep)
	if err != nil {
		return err
	}
	if ok {
		e.replayed.Add(1)
		return nil
	}

	if err := e.sleeper.Sleep(ctx, d); err != nil {
		return err
	}
	e.slept.Add(int64(d))

	data, _ := json.Marshal(map[string]int64{"duration_ms": d.Milliseconds()})
	if err := e.log.Append(ctx, Record{
		RunID:     e.runID,
		Name:      name,
		Kind:      KindSleep,
		Result:    data,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("record sleep %s: %w", name, err)
	}

	e.executed.Add(1)
	logging.StepsDebug("[%s] slept %s for %v", e.runID, name, d)
	return nil
}

// Name builds a step name from an operation kind and distinguishing parts,
// joined with "-". Example: Name("terminal", 3, Hash(args)) → "terminal-3-1a2b3c4d5e6f".
func Name(kind string, parts ...any) string {
	if len(parts) == 0 {
		return kind
	}
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte('-')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// Hash returns the first 12 hex characters of the sha256 of v's JSON encoding.
// Map keys are sorted by encoding/json, so equal arguments hash equally.
func Hash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}
