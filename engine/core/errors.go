package core

import (
	"errors"
	"fmt"
)

var (
	ErrContractViolation = errors.New("contract violation")
	ErrUnknown           = errors.New("unknown")
)

// AssertionError is the panic value raised by Assert. It always wraps
// ErrContractViolation so recovered values can be matched with errors.Is.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrContractViolation, e.Message)
}

func (e *AssertionError) Unwrap() error {
	return ErrContractViolation
}

// Assert reports a programming error. Violations are logged and then abort
// the current goroutine with a panic; they are never recovered in engine code.
func Assert(cond bool, msg string, args ...interface{}) {
	if cond {
		return
	}
	err := &AssertionError{Message: fmt.Sprintf(msg, args...)}
	LogError(err.Error())
	panic(err)
}

// Must panics with an AssertionError when err is not nil.
func Must(err error, context string) {
	if err != nil {
		Assert(false, "%s: %v", context, err)
	}
}
