package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agentforge/internal/steps"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "resource exhausted text", err: errors.New("rpc error: RESOURCE_EXHAUSTED"), want: true},
		{name: "http 429", err: errors.New("POST /v1/models: 429 Too Many Requests"), want: true},
		{name: "quota text", err: errors.New("You exceeded your current quota"), want: true},
		{name: "rate limit text", err: errors.New("Rate limit reached for requests"), want: true},
		{name: "wrapped", err: fmt.Errorf("agent turn 3: %w", errors.New("RESOURCE_EXHAUSTED")), want: true},
		{name: "structured api error", err: genai.APIError{Code: 429, Message: "slow down"}, want: true},
		{name: "structured status", err: genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, want: true},
		{name: "unrelated", err: errors.New("invalid argument: contents is empty"), want: false},
		{name: "server error", err: genai.APIError{Code: 500, Message: "internal"}, want: false},
		{name: "number containing 429", err: errors.New("processed 14290 tokens"), want: false},
		{name: "status code 429", err: errors.New("googleapi: got HTTP response code 429"), want: true},
		{name: "status line", err: errors.New("HTTP/1.1 429"), want: true},
		{name: "line number 429", err: errors.New("syntax error at main.py line 429"), want: false},
		{name: "byte count 429", err: errors.New("short write: 429 bytes"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsQuotaError(tt.err))
		})
	}
}

func TestRetryHint(t *testing.T) {
	t.Run("structured RetryInfo", func(t *testing.T) {
		err := genai.APIError{
			Code:   429,
			Status: "RESOURCE_EXHAUSTED",
			Details: []map[string]any{
				{"@type": "type.googleapis.com/google.rpc.QuotaFailure"},
				{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "3s"},
			},
		}
		d, ok := RetryHint(err)
		require.True(t, ok)
		assert.Equal(t, 3*time.Second, d)
	})

	t.Run("serialized text", func(t *testing.T) {
		d, ok := RetryHint(errors.New(`429 {"error":{"details":[{"retryDelay": "17s"}]}}`))
		require.True(t, ok)
		assert.Equal(t, 17*time.Second, d)
	})

	t.Run("fractional seconds", func(t *testing.T) {
		d, ok := RetryHint(errors.New(`"retryDelay":"1.5s"`))
		require.True(t, ok)
		assert.Equal(t, 1500*time.Millisecond, d)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := RetryHint(errors.New("RESOURCE_EXHAUSTED"))
		assert.False(t, ok)
	})
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxRetries: 5, DefaultDelay: 120 * time.Second, BaseDelay: 10 * time.Second}

	hinted := genai.APIError{Code: 429, Details: []map[string]any{{"retryDelay": "3s"}}}
	assert.Equal(t, int64(3000), p.Delay(0, hinted).Milliseconds())

	plain := errors.New("RESOURCE_EXHAUSTED")
	assert.Equal(t, int64(120000), p.Delay(0, plain).Milliseconds())
	assert.Equal(t, 2*p.BaseDelay, p.Delay(1, plain))
	assert.Equal(t, 4*p.BaseDelay, p.Delay(2, plain))
}

func newController(log *steps.MemoryLog, slept *[]time.Duration) *Controller {
	exec := steps.NewExecutor("run-1", log, steps.WithSleeper(steps.SleeperFunc(func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	})))
	return &Controller{
		Policy: Policy{MaxRetries: 5, DefaultDelay: 120 * time.Second, BaseDelay: time.Second},
		Steps:  exec,
	}
}

func TestController_NonQuotaErrorIsNotRetried(t *testing.T) {
	var slept []time.Duration
	c := newController(steps.NewMemoryLog(), &slept)

	calls := 0
	boom := errors.New("sandbox provision failed")
	err := c.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestController_RetriesQuotaThenSucceeds(t *testing.T) {
	var slept []time.Duration
	c := newController(steps.NewMemoryLog(), &slept)

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("429 Too Many Requests")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{120 * time.Second, 2 * time.Second}, slept)
}

func TestController_ExhaustsRetries(t *testing.T) {
	var slept []time.Duration
	c := newController(steps.NewMemoryLog(), &slept)

	calls := 0
	last := errors.New("RESOURCE_EXHAUSTED")
	err := c.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return last
	})

	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 6, qe.Attempts)
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 6, calls, "initial attempt plus five retries")
	assert.Len(t, slept, 5)
	assert.True(t, IsQuotaError(err))
}

func TestController_BackoffSleepsReplay(t *testing.T) {
	log := steps.NewMemoryLog()
	var slept []time.Duration

	fail := func(ctx context.Context, attempt int) error {
		if attempt == 0 {
			return errors.New("quota exceeded")
		}
		return nil
	}

	require.NoError(t, newController(log, &slept).Do(context.Background(), fail))
	require.Len(t, slept, 1)

	// A resumed run replays the completed backoff instead of waiting again.
	require.NoError(t, newController(log, &slept).Do(context.Background(), fail))
	assert.Len(t, slept, 1)
}
