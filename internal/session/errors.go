package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an attempt failed.
type ErrorKind string

const (
	// ErrorConfig covers invalid or missing debuggers.
	ErrorConfig ErrorKind = "config"
	// ErrorPrepare covers backend preparation failures.
	ErrorPrepare ErrorKind = "prepare"
	// ErrorSpawn covers temp files, command expansion and process start.
	ErrorSpawn ErrorKind = "spawn"
	// ErrorProcess covers a debugger that could not be waited on.
	ErrorProcess ErrorKind = "process"
	// ErrorExit covers a debugger that exited non-zero or on a signal.
	ErrorExit ErrorKind = "exit"
)

// Error is a classified session failure.
type Error struct {
	Kind     ErrorKind
	Op       string
	ExitCode int
	Signal   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op
	}
	switch {
	case e.Signal != "":
		msg = fmt.Sprintf("%s: debugger killed by %s", msg, e.Signal)
	case e.Kind == ErrorExit:
		msg = fmt.Sprintf("%s: debugger exited with code %d", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a classified error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}
