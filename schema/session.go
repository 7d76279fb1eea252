package schema

// SessionID identifies one debug session.
type SessionID string

// SessionState is the lifecycle state of a debug session.
type SessionState int

const (
	// StateNotLoaded is the state before the first start.
	StateNotLoaded SessionState = iota
	// StateLoading covers preparation and the running debugger.
	StateLoading
	// StateLoaded means the debugger exited cleanly and the report is ready.
	StateLoaded
	// StateFailed means the debugger ran but did not exit cleanly.
	StateFailed
	// StateFailedToStart means no debugger process could be spawned.
	StateFailedToStart
)

func (s SessionState) String() string {
	switch s {
	case StateNotLoaded:
		return "not_loaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateFailedToStart:
		return "failed_to_start"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends an attempt.
func (s SessionState) Terminal() bool {
	return s == StateLoaded || s == StateFailed || s == StateFailedToStart
}

// CrashedApplication describes the process a session debugs.
type CrashedApplication struct {
	// ProgramName is the human readable application name.
	ProgramName string `json:"program_name"`
	// ExecutablePath is the absolute path of the crashed executable.
	ExecutablePath string `json:"executable_path"`
	PID            int    `json:"pid"`
	Signal         int    `json:"signal"`
	// Thread is the id of the crashing thread, zero when unknown.
	Thread int `json:"thread,omitempty"`
	// CoreFile is the path of an extracted core dump, if any.
	CoreFile string `json:"core_file,omitempty"`
}

// StateEvent reports a session state transition.
type StateEvent struct {
	SessionID SessionID
	From      SessionState
	To        SessionState
}

// LineEvent carries one streamed debugger output line.
type LineEvent struct {
	SessionID SessionID
	Line      string
}

// ErrorEvent reports why an attempt ended in a failure state.
type ErrorEvent struct {
	SessionID SessionID
	State     SessionState
	// Kind classifies the failure (config, prepare, spawn, process, exit).
	Kind    string
	Message string
}

// DoneEvent reports a loaded report.
type DoneEvent struct {
	SessionID  SessionID
	Usefulness Usefulness
	Lines      int
}
