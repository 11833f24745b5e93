package apierror

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Stacker is implemented by errors that captured a stack trace.
type Stacker interface {
	Stack() []string
}

type stackError struct {
	err    error
	frames []string
}

func (e *stackError) Error() string   { return e.err.Error() }
func (e *stackError) Unwrap() error   { return e.err }
func (e *stackError) Stack() []string { return e.frames }

// WithStack annotates err with the caller's stack. A nil err stays nil, and
// an error that already carries a stack is returned unchanged.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var s Stacker
	if errors.As(err, &s) {
		return err
	}
	return &stackError{err: err, frames: callers(3)}
}

// FromPanic converts a recovered value into an untyped error with a stack.
// A recovered error value is kept as the wrapped error.
func FromPanic(v any) error {
	err, ok := v.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", v)
	}
	return &stackError{err: err, frames: callers(4)}
}

// StackOf returns the stack captured anywhere in err's chain, or an empty
// slice.
func StackOf(err error) []string {
	var s Stacker
	if err != nil && errors.As(err, &s) {
		return s.Stack()
	}
	return []string{}
}

func callers(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []string
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line))
		}
		if !more {
			break
		}
	}
	return out
}
