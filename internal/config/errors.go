package config

import (
	"errors"
	"fmt"
)

// ErrConfigIO is matched by every IOError.
var ErrConfigIO = errors.New("config io")

// IOError reports a config file that could not be read, decoded or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrConfigIO }
