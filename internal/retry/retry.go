// Package retry classifies provider quota failures and retries the agent
// network around them with durable backoff sleeps.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"agentforge/internal/logging"
	"agentforge/internal/steps"

	"google.golang.org/genai"
)

var (
	// 429 counts only as an HTTP status, not as any number in the text.
	status429Re  = regexp.MustCompile(`(?i)(?:status|code|http)[^0-9a-z]{0,4}429\b|http/\d(?:\.\d)?\s+429\b|\b429 too many`)
	retryDelayRe = regexp.MustCompile(`"?retryDelay"?\s*[:=]\s*"?(\d+(?:\.\d+)?)s`)
)

// quotaMarkers are matched case-insensitively against the serialized error.
var quotaMarkers = []string{
	"resource_exhausted",
	"too many requests",
	"quota",
	"rate limit",
	"ratelimit",
}

// apiError extracts a structured genai error, value or pointer.
func apiError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// serialize renders everything known about err into one string.
func serialize(err error) string {
	var b strings.Builder
	b.WriteString(err.Error())
	if apiErr, ok := apiError(err); ok {
		if data, jerr := json.Marshal(apiErr); jerr == nil {
			b.WriteByte(' ')
			b.Write(data)
		}
	}
	return b.String()
}

// IsQuotaError reports whether err is a transient rate or usage limit failure.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var qe *QuotaError
	if errors.As(err, &qe) {
		return true
	}
	if apiErr, ok := apiError(err); ok {
		if apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return true
		}
	}

	s := serialize(err)
	if status429Re.MatchString(s) {
		return true
	}
	lower := strings.ToLower(s)
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RetryHint returns the provider-suggested delay carried by err, if any.
// It reads google.rpc.RetryInfo from structured error details first, then
// falls back to a "retryDelay": "Ns" fragment in the error text.
func RetryHint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	if apiErr, ok := apiError(err); ok {
		for _, detail := range apiErr.Details {
			raw, ok := detail["retryDelay"].(string)
			if !ok {
				continue
			}
			if d, ok := parseSeconds(raw); ok {
				return d, true
			}
		}
	}

	m := retryDelayRe.FindStringSubmatch(serialize(err))
	if m == nil {
		return 0, false
	}
	return parseSeconds(m[1] + "s")
}

func parseSeconds(s string) (time.Duration, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "s")
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)).Round(time.Millisecond), true
}

// Policy computes backoff delays for quota errors.
type Policy struct {
	MaxRetries   int
	DefaultDelay time.Duration // first retry without a provider hint
	BaseDelay    time.Duration // exponential base for later retries
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   5,
		DefaultDelay: 120 * time.Second,
		BaseDelay:    30 * time.Second,
	}
}

// Delay returns the wait before retrying after the attempt-th failure (0-based).
// The first retry honours the provider hint, or DefaultDelay without one;
// later retries back off as BaseDelay * 2^attempt.
func (p Policy) Delay(attempt int, err error) time.Duration {
	if attempt <= 0 {
		if hint, ok := RetryHint(err); ok {
			return hint
		}
		return p.DefaultDelay
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
}

// QuotaError is returned once retries are exhausted.
type QuotaError struct {
	Attempts int
	Err      error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// Controller retries a function on quota errors. Backoff waits are durable
// step sleeps named quota-backoff-<attempt>.
type Controller struct {
	Policy Policy
	Steps  *steps.Executor
}

// Do calls fn until it succeeds, fails with a non-quota error, or exhausts
// Policy.MaxRetries retries.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !IsQuotaError(err) {
			return err
		}
		if attempt >= c.Policy.MaxRetries {
			logging.RetryWarn("[%s] quota retries exhausted after %d attempts: %v", c.Steps.RunID(), attempt+1, err)
			return &QuotaError{Attempts: attempt + 1, Err: err}
		}

		delay := c.Policy.Delay(attempt, err)
		logging.Retry("[%s] quota error on attempt %d, backing off %v", c.Steps.RunID(), attempt+1, delay)
		if err := c.Steps.Sleep(ctx, steps.Name("quota-backoff", attempt), delay); err != nil {
			return err
		}
	}
}
