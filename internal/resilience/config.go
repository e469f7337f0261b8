package resilience

import (
	"time"

	"github.com/protocol-education/school-intel/internal/config"
)

// RetryFromConfig builds the extraction retry policy. max_retries counts
// retries, so attempts are one more.
func RetryFromConfig(cfg config.AnthropicConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		rc.MaxAttempts = cfg.MaxRetries + 1
	}
	if cfg.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.BackoffMultiplier > 0 {
		rc.Multiplier = cfg.BackoffMultiplier
	}
	return rc
}

// BreakerFromConfig builds the extraction circuit breaker settings.
func BreakerFromConfig(cfg config.AnthropicConfig) CircuitBreakerConfig {
	cc := DefaultCircuitBreakerConfig()
	if cfg.CircuitFailureThreshold > 0 {
		cc.FailureThreshold = cfg.CircuitFailureThreshold
	}
	if cfg.CircuitResetSecs > 0 {
		cc.ResetTimeout = time.Duration(cfg.CircuitResetSecs) * time.Second
	}
	return cc
}
