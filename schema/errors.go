package schema

import "errors"

var (
	// ErrInvalidDebugger indicates a debugger descriptor without a usable command.
	ErrInvalidDebugger = errors.New("invalid debugger descriptor")
	// ErrDebuggerNotInstalled indicates the debugger binary could not be found.
	ErrDebuggerNotInstalled = errors.New("debugger not installed")
	// ErrDebuggerNotFound indicates no descriptor exists for the requested debugger.
	ErrDebuggerNotFound = errors.New("debugger not found")
	// ErrBackendUnsupported indicates the debugger has no commands for the backend.
	ErrBackendUnsupported = errors.New("backend not supported by debugger")
	// ErrSessionBusy indicates a previous attempt is still attached to the session.
	ErrSessionBusy = errors.New("session is busy")
	// ErrSessionClosed indicates the session was closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrProcessGone indicates the crashed process no longer exists.
	ErrProcessGone = errors.New("crashed process is gone")
	// ErrNoCoreFile indicates no core dump could be located.
	ErrNoCoreFile = errors.New("core file not available")
	// ErrBugNotFound indicates the bug tracker has no such bug.
	ErrBugNotFound = errors.New("bug not found")
	// ErrInvalidBug indicates an invalid bug identifier.
	ErrInvalidBug = errors.New("invalid bug")
	// ErrNoBacktrace indicates the input contained no backtrace.
	ErrNoBacktrace = errors.New("no backtrace")
)
