package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitError marks a quota or rate limit rejection (HTTP 429).
type RateLimitError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: rate limited (status %d)", e.Provider, e.StatusCode)
}

func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfterOf returns the provider's Retry-After hint, or 0.
func RetryAfterOf(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// Cooldown picks how long a rate limited provider stays exhausted. A shorter
// Retry-After hint wins over the configured cooldown.
func Cooldown(configured, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 && retryAfter < configured {
		return retryAfter
	}
	return configured
}

type ProviderFailure struct {
	Provider string
	Err      error
	Skipped  bool
}

// AllProvidersFailedError is returned when every provider in a chain was
// skipped or failed. It carries one entry per provider.
type AllProvidersFailedError struct {
	Failures []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Skipped {
			parts = append(parts, f.Provider+": quota exhausted, skipped")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", f.Provider, f.Err))
	}
	if len(parts) == 0 {
		return "all providers failed: no providers configured"
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// RateLimitedOnly reports whether every failure was quota related.
func (e *AllProvidersFailedError) RateLimitedOnly() bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		if !f.Skipped && !IsRateLimited(f.Err) {
			return false
		}
	}
	return true
}

func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
