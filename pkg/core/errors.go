package core

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidFamilyName     = errors.New("drainq: invalid family name (must be alphanumeric, start with letter)")
	ErrFamilyNameTooLong     = errors.New("drainq: family name too long")
	ErrInvalidDependencyName = errors.New("drainq: invalid dependency name")
	ErrNilHandler            = errors.New("drainq: family handler must not be nil")
)

// Run-level errors
var (
	// ErrLeaseHeld is returned by RunOnce when another scheduler instance
	// holds the lease. Benign: the caller should simply try again later.
	ErrLeaseHeld = errors.New("drainq: lease held by another worker")

	// ErrRunInProgress is returned when a run is already active in this
	// process. Distinct from ErrLeaseHeld, which guards cross-process.
	ErrRunInProgress = errors.New("drainq: run already in progress")
)

// ErrJobNotFound is returned for status updates against unknown job IDs.
var ErrJobNotFound = errors.New("drainq: job not found")

// CircuitOpenError indicates a call was rejected without being attempted
// because the dependency's circuit is open.
type CircuitOpenError struct {
	Dependency string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("drainq: circuit open for dependency %q", e.Dependency)
}

// CircuitOpen wraps a dependency name into a CircuitOpenError.
func CircuitOpen(dependency string) error {
	return &CircuitOpenError{Dependency: dependency}
}

// IsCircuitOpen reports whether err is a circuit rejection.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}
