package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes: server
// errors and throttling are worth another attempt, client errors are not.
func IsRetryableHTTPStatus(code int) bool {
	if code == 429 {
		return true
	}
	return code == 500 || code == 502 || code == 503 || code == 504
}

var retryableRealtimeTypes = map[string]bool{
	"rate_limited":       true,
	"resource_exhausted": true,
	"queue_overflow":     true,
	"error":              true,
}

// IsRetryableRealtimeMessageType classifies retryable upstream realtime errors.
func IsRetryableRealtimeMessageType(messageType string) bool {
	return retryableRealtimeTypes[messageType]
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	if attempt > 30 {
		return cap
	}
	d := base << uint(attempt)
	if d > cap || d < base {
		return cap
	}
	return d
}

// FixedBackoff returns the constant inter-attempt delay used by polling
// loops that wait for a remote artifact to materialize (session recordings).
func FixedBackoff(attempt int, delay time.Duration) time.Duration {
	if attempt < 0 || delay <= 0 {
		return 0
	}
	return delay
}
