package thread

import (
	"errors"
	"fmt"
)

var (
	ErrStopped          = errors.New("thread runner stopped")
	ErrNoRunner         = errors.New("task has no runner")
	ErrNilWork          = errors.New("task work is nil")
	ErrNegativeDelay    = errors.New("task delay must be >= 0")
	ErrAlreadyActivated = errors.New("task already activated")
	ErrCallbackMismatch = errors.New("completion callback does not match task form")
	ErrUnsupportedForm  = errors.New("unsupported task form")
	ErrRejected         = errors.New("task rejected by worker pool")
)

// PanicError is the failure delivered when work panics instead of returning an error.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
