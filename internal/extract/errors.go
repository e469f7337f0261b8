package extract

import (
	"fmt"
	"time"

	"github.com/protocol-education/school-intel/internal/model"
)

// ExtractionError means the service answered but the answer did not match
// the schema for the unit's classification. The pipeline retries these once
// at the fallback tier.
type ExtractionError struct {
	Tier   model.Tier
	Class  model.ContentClass
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract: %s response at tier %s: %s", e.Class, e.Tier, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RateLimitError means the provider throttled the call. It is retryable
// until attempts run out; after that it is a soft failure for the unit.
type RateLimitError struct {
	Attempts int
	After    time.Duration
	Err      error
}

func (e *RateLimitError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("extract: rate limited after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("extract: rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Retryable implements resilience.Retryable.
func (e *RateLimitError) Retryable() bool { return true }

// RetryAfter implements resilience.Delayed.
func (e *RateLimitError) RetryAfter() time.Duration { return e.After }

// ServiceError covers call failures that are neither throttling nor a bad
// response: timeouts, 5xx answers, an open circuit.
type ServiceError struct {
	Tier      model.Tier
	Status    int
	transient bool
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("extract: service error at tier %s (HTTP %d): %v", e.Tier, e.Status, e.Err)
	}
	return fmt.Sprintf("extract: service error at tier %s: %v", e.Tier, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable implements resilience.Retryable.
func (e *ServiceError) Retryable() bool { return e.transient }
