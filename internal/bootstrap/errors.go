package bootstrap

import (
	"errors"
	"fmt"
)

// ErrEmptyBuildType is returned when no build type is configured.
var ErrEmptyBuildType = errors.New("the build type is empty")

// UnknownBuildTypeError names a build type the agent does not support.
type UnknownBuildTypeError struct {
	Value string
}

func (e *UnknownBuildTypeError) Error() string {
	return fmt.Sprintf("unknown build type - %s", e.Value)
}

// FatalError marks a configuration or filesystem failure the process must
// not continue from.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// ExitCode lets the process boundary pick a distinct status for fatal errors.
func (e *FatalError) ExitCode() int { return 2 }

// IsFatal reports whether err, or anything it wraps, is a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

func fatal(err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return &FatalError{Err: err}
}
