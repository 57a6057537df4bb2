package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptArtifact marks a persisted artifact that cannot be used. The store recovers from it by bootstrapping.
	ErrCorruptArtifact = errors.New("corrupt model artifact")
	// ErrDimensionMismatch marks a feature vector whose width differs from the model's.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
)

// InputError is a rejected caller argument. No state is changed when it is returned.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError is a failed write of the model artifact.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist model %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err is, or wraps, an *InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// IsPersistenceError reports whether err is, or wraps, a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
