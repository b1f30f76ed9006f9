package errors

import "errors"

// ExitCodeError associates an error with the process exit code it should
// terminate the program with.
type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	return e.error
}

// CodeOf returns the exit code carried by err, looking through any wrapping.
// An error without an exit code is an unclassified fault.
func CodeOf(err error) ExitCode {
	if err == nil {
		return 0
	}
	var coded *ExitCodeError
	if errors.As(err, &coded) {
		return coded.GetExitCode()
	}
	return UnclassifiedExitCode
}
