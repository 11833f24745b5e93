package apierror

import (
	"errors"
	"fmt"
)

// Kind discriminates a Failure.
type Kind int

const (
	// KindUntyped is any failure not built as an *Error.
	KindUntyped Kind = iota
	// KindTyped is an *Error, possibly wrapped.
	KindTyped
)

func (k Kind) String() string {
	switch k {
	case KindTyped:
		return "typed"
	case KindUntyped:
		return "untyped"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Failure is the classified form of an error reaching the responder.
// Exactly one of Typed or Untyped is set, according to Kind.
type Failure struct {
	Kind    Kind
	Typed   *Error
	Untyped error
}

// Classify sorts err into a typed or untyped failure. A wrapped *Error is
// still typed.
func Classify(err error) Failure {
	var typed *Error
	if errors.As(err, &typed) {
		if typed != nil {
			return Failure{Kind: KindTyped, Typed: typed}
		}
		err = errors.New("nil typed error")
	}
	if err == nil {
		err = errors.New("nil error")
	}
	return Failure{Kind: KindUntyped, Untyped: err}
}
