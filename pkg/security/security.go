// Package security provides validation, sanitization, and limits for the drainq module.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/okapilabs/drainq/pkg/core"
)

// Limits and configuration
const (
	// MaxFamilyNameLength is the maximum length for job family names
	MaxFamilyNameLength = 255

	// MaxAttemptsLimit is the hard limit for a family's retry budget
	MaxAttemptsLimit = 100

	// MaxBatchSize is the hard limit for jobs drained per run
	MaxBatchSize = 1000

	// MaxErrorMessageLength is the maximum length for one stored error message
	MaxErrorMessageLength = 1024

	// MaxErrorTrailLength is the maximum length for the concatenated
	// error trail kept on abandoned rows for operator diagnosis
	MaxErrorTrailLength = 4096
)

// validName matches alphanumeric, hyphens, underscores, and dots
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateFamilyName validates a job family name
func ValidateFamilyName(name string) error {
	if name == "" {
		return core.ErrInvalidFamilyName
	}
	if len(name) > MaxFamilyNameLength {
		return core.ErrFamilyNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidFamilyName
	}
	return nil
}

// ValidateDependencyName validates a circuit breaker dependency name
func ValidateDependencyName(name string) error {
	if name == "" || len(name) > MaxFamilyNameLength {
		return core.ErrInvalidDependencyName
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// TruncateTrail caps a concatenated error trail, keeping the newest tail.
// The trail grows append-only across attempts, so the most recent failures
// are the ones operators need.
func TruncateTrail(trail string) string {
	if utf8.RuneCountInString(trail) <= MaxErrorTrailLength {
		return trail
	}
	runes := []rune(trail)
	return "..." + string(runes[len(runes)-MaxErrorTrailLength+3:])
}

// ClampAttempts ensures a retry budget is within limits
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttemptsLimit {
		return MaxAttemptsLimit
	}
	return n
}

// ClampBatchSize ensures a drain batch size is within limits
func ClampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}
