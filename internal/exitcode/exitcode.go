// Package exitcode defines the process exit codes of a test run and the
// typed error that carries them up to main.
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes returned by basil-testrun.
//
// * Success (0): the run was dispatched, monitored and recorded
// * RunNotFound (1) .. MonitorFailure (9): fatal, non-recoverable paths
const (
	Success            = 0
	RunNotFound        = 1 // Run record (or its configuration) not found
	AlreadyTriggered   = 2 // Run status is not "created"
	UnknownMappingType = 3 // Mapping owner table not recognized
	MappingNotFound    = 4 // Mapping record not found
	UnsupportedBackend = 5 // Plugin selector not recognized
	Unexpected         = 6 // Uncaught error or panic during dispatch
	Validation         = 7 // Backend validation failure, includes sandbox rejection
	ExecutionFailure   = 8 // Trigger phase failure
	MonitorFailure     = 9 // Monitoring phase failure
)

// Error is a fatal run error tagged with its exit code.
type Error struct {
	Code int
	Msg  string
	Err  error
}

// New returns an Error with a formatted message.
func New(code int, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error that wraps err.
func Wrap(code int, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Of returns the exit code for err: Success for nil, the carried code for an
// *Error anywhere in the chain, Unexpected otherwise.
func Of(err error) int {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unexpected
}
