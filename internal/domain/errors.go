package domain

import (
	"errors"
	"fmt"
)

// ErrNotBound signals an operation that requires a binding for the invoking
// group when none exists.
var ErrNotBound = errors.New("group is not bound to a target group")

// ValidationError marks rejected input at the command boundary. No state
// changes when one is returned; the invoker may re-issue the command.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string {
	return e.Msg
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
