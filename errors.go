package blipeval

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedTask is matched by every UnsupportedTaskError
	ErrUnsupportedTask = errors.New("unsupported task")

	// ErrInvalidOptions reports run options that cannot be honoured
	ErrInvalidOptions = errors.New("invalid options")

	// ErrDatasetMismatch reports a dataset lacking the accessors a task needs
	ErrDatasetMismatch = errors.New("dataset does not support task")

	// ErrSave is matched by every SaveError
	ErrSave = errors.New("save results")
)

// UnsupportedTaskError is returned for a task tag outside the supported set
type UnsupportedTaskError struct {
	Task string
}

func (e *UnsupportedTaskError) Error() string {
	return fmt.Sprintf("unsupported task: %s", e.Task)
}

func (e *UnsupportedTaskError) Is(target error) bool {
	return target == ErrUnsupportedTask
}

// SaveError wraps an I/O failure while persisting results
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("failed to save results to %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

func (e *SaveError) Is(target error) bool {
	return target == ErrSave
}
