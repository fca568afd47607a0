package award

import (
	"errors"
	"fmt"
)

// Failure classes reported by the award service. Callers classify with errors.Is.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrProfileNotFound = errors.New("profile not found")
	ErrPersistence     = errors.New("persistence failure")
)

// Refinements of ErrInvalidInput
var (
	ErrDurationTooLong = fmt.Errorf("%w: session longer than %d minutes", ErrInvalidInput, MaxSessionMinutes)
	ErrXPOutOfRange    = fmt.Errorf("%w: cumulative xp out of range", ErrInvalidInput)
)
