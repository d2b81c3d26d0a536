// Package policy implements the retry and dead-letter policy: pure
// functions that classify a failed attempt as retryable or abandoned and
// compute the delay before the next attempt.
package policy

import (
	"fmt"
	"time"

	"github.com/okapilabs/drainq/pkg/core"
	"github.com/okapilabs/drainq/pkg/security"
)

// NextStatus classifies a job after a failed attempt: retry while the
// budget allows, failed (abandoned) once it is exhausted.
func NextStatus(attempts, maxAttempts int) core.JobStatus {
	if attempts < maxAttempts {
		return core.StatusRetry
	}
	return core.StatusFailed
}

// Backoff computes exponential re-delivery delays. The same shape serves
// minute-scale dead-letter redelivery and second-scale in-call retries;
// only base and cap differ per call site.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// MinuteScale is the dead-letter redelivery profile: 1, 2, 4, 8, ... minutes.
func MinuteScale() Backoff {
	return Backoff{Base: time.Minute, Cap: 30 * time.Minute}
}

// SecondScale is the in-call provider retry profile: 1, 2, 4 seconds.
func SecondScale() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second}
}

// NotifyScale is the notification delivery profile: 30s base, 15m cap.
func NotifyScale() Backoff {
	return Backoff{Base: 30 * time.Second, Cap: 15 * time.Minute}
}

// Delay returns the wait before the given attempt is retried. attempt is
// 1-based: Delay(1) == Base. The result is non-decreasing in attempt and
// never exceeds Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	limit := b.Cap
	if limit <= 0 {
		limit = time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	// Shifting past 62 bits would overflow; anything that far in is
	// already above any sane cap.
	if attempt-1 >= 62 {
		return limit
	}
	d := base << (attempt - 1)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// AppendError extends the concatenated error trail with one attempt's
// sanitized failure message. The trail is preserved across attempts and
// truncated so abandoned rows stay readable for operator triage.
func AppendError(trail string, attempt int, msg string) string {
	entry := fmt.Sprintf("attempt %d: %s", attempt, security.SanitizeErrorMessage(msg))
	if trail == "" {
		return security.TruncateTrail(entry)
	}
	return security.TruncateTrail(trail + "; " + entry)
}
