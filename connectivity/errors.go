package connectivity

import (
	"fmt"
	"runtime/debug"
)

// ErrCircuitOpen is returned when the breaker for a service rejects a call
// without attempting it.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// ErrPanic wraps a recovered panic value.
type ErrPanic struct {
	Value any
	Stack string
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *ErrPanic) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Protect runs fn and converts a panic into an *ErrPanic carrying the stack.
func Protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ErrPanic{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}
