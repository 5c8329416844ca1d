package tools

import (
	"fmt"
	"strings"
	"time"
)

// UnknownToolError reports a call to a name with no registered capability.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// InvalidInputError reports input that does not satisfy a capability's
// input schema.
type InvalidInputError struct {
	Name     string
	Problems []string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for tool %q: %s", e.Name, strings.Join(e.Problems, "; "))
}

// ExecutionError wraps a capability failure.
type ExecutionError struct {
	Name string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RateLimitedError reports a provider throttling response. Only these
// errors are retried.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }
