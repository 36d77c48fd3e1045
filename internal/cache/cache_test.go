package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"agentforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(DefaultTTL, DefaultCapacity, WithClock(clock.Now)), clock
}

func outcome(title string) types.Outcome {
	return types.Outcome{
		Title:   title,
		Files:   map[string]string{"main.py": "print(1)"},
		Success: true,
	}
}

func TestCache_HitWithinTTL(t *testing.T) {
	c, clock := newTestCache()
	c.Set("k", outcome("Hello Agent"))

	clock.Advance(4*time.Minute + 59*time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, outcome("Hello Agent"), got)
}

func TestCache_MissAfterTTL(t *testing.T) {
	c, clock := newTestCache()
	c.Set("k", outcome("x"))

	clock.Advance(5 * time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "stale entry is dropped on read")
}

func TestCache_EvictsOldestInserted(t *testing.T) {
	c, _ := newTestCache()
	for i := 0; i < DefaultCapacity; i++ {
		c.Set(fmt.Sprintf("k%d", i), outcome(fmt.Sprint(i)))
	}
	// Reading k0 does not refresh it: eviction is by insertion, not use.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("k100", outcome("100"))

	assert.Equal(t, DefaultCapacity, c.Len())
	_, ok = c.Get("k0")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = c.Get("k1")
	assert.True(t, ok)
	_, ok = c.Get("k100")
	assert.True(t, ok)
}

func TestCache_OverwriteMovesToBack(t *testing.T) {
	c := New(time.Minute, 2)
	c.Set("a", outcome("a1"))
	c.Set("b", outcome("b"))
	c.Set("a", outcome("a2"))
	c.Set("c", outcome("c"))

	_, ok := c.Get("b")
	assert.False(t, ok)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a2", got.Title)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(time.Minute, 10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%15)
			c.Set(key, outcome(key))
			c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 10)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(types.WorkflowRequest{Prompt: "code a hello world agent", ProjectID: "p1"})
	b := Fingerprint(types.WorkflowRequest{Prompt: "  code a hello world agent\n", ProjectID: "p1"})
	c := Fingerprint(types.WorkflowRequest{Prompt: "code a hello world agent", ProjectID: "p2"})

	assert.Equal(t, a, b, "whitespace is normalized away")
	assert.NotEqual(t, a, c, "project is part of the identity")
	assert.Len(t, a, 64)
}
