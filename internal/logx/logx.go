package logx

import (
	"context"

	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	sessionKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if log != nil && sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithDebugger annotates the logger with the debugger code name and backend.
func WithDebugger(log pslog.Logger, codeName, backend string) pslog.Logger {
	if log == nil {
		return nil
	}
	if codeName != "" {
		log = log.With("debugger", codeName)
	}
	if backend != "" {
		log = log.With("backend", backend)
	}
	return log
}

// WithBug annotates the logger with a bug id.
func WithBug(log pslog.Logger, bugID int) pslog.Logger {
	if log != nil && bugID > 0 {
		log = log.With("bug", bugID)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithSessionLogger attaches the session-annotated logger and marker to the context.
// A context already carrying the same session keeps its logger fields as-is.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	if current, ok := ctx.Value(sessionKey).(schema.SessionID); !ok || current != sessionID {
		log = WithSession(log, sessionID)
	}
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}

// SessionFromContext returns the session marker stored on the context.
func SessionFromContext(ctx context.Context) (schema.SessionID, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(sessionKey).(schema.SessionID)
	return id, ok && id != ""
}
