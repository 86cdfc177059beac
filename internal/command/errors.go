package command

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned when the Authorizer rejects a caller.
var ErrPermissionDenied = errors.New("permission denied")

// InvalidInputError is a rejected argument. Its message is shown to the caller as is.
type InvalidInputError struct {
	Msg string
}

func (e *InvalidInputError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &InvalidInputError{Msg: fmt.Sprintf(format, args...)}
}
