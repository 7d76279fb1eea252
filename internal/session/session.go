package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/crashtrace/internal/backend"
	"pkt.systems/crashtrace/internal/debugger"
	"pkt.systems/crashtrace/internal/logx"
	"pkt.systems/crashtrace/internal/netstate"
	"pkt.systems/crashtrace/internal/parser"
	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

const (
	// TempDirEnv tells the debugger preamble where to write side-channel files.
	TempDirEnv = "CRASHTRACE_TMP_DIR"

	batchFileName    = "batch.cmd"
	preambleFileName = "preamble.cmd"

	defaultTerminateTimeout = 10 * time.Second
	defaultKillTimeout      = 5 * time.Second
)

// detachRe matches the line a debugger prints once it let go of the process.
var detachRe = regexp.MustCompile(`^Process .* detached`)

// EventSink receives session events. Calls happen on session goroutines and
// must not block for long.
type EventSink interface {
	OnState(schema.StateEvent)
	OnLine(schema.LineEvent)
	OnError(schema.ErrorEvent)
	OnDone(schema.DoneEvent)
}

// Config describes one debug session.
type Config struct {
	Debugger debugger.Debugger
	App      schema.CrashedApplication
	// Preparer readies the crashed application each attempt; nil skips preparation.
	Preparer backend.Preparer
	// SymbolResolution is the user preference; it is still subject to
	// debugger support and the metered-network check.
	SymbolResolution bool
	Network          netstate.Detector
	// TempRoot holds per-attempt temp dirs, os.TempDir when empty.
	TempRoot         string
	TerminateTimeout time.Duration
	KillTimeout      time.Duration
	Thresholds       parser.Thresholds
	Sink             EventSink
	Logger           pslog.Logger
}

// Session supervises debugger attempts for one crashed application. At
// most one debugger process is attached at any time.
type Session struct {
	id               schema.SessionID
	cfg              Config
	parser           *parser.Parser
	log              pslog.Logger
	symbolResolution bool

	mu      sync.Mutex
	state   schema.SessionState
	app     schema.CrashedApplication
	current *attempt
	closed  bool
	report  string
	payload []byte
	lastErr error
	done    chan struct{}
	wg      sync.WaitGroup
}

// attempt holds the resources of one start. The temp dir and process are
// released together.
type attempt struct {
	tempDir string
	proc    *process
}

// New creates a session in the NotLoaded state. The symbol resolution
// decision is made once here.
func New(ctx context.Context, cfg Config) *Session {
	if cfg.TerminateTimeout <= 0 {
		cfg.TerminateTimeout = defaultTerminateTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = defaultKillTimeout
	}
	id := schema.SessionID(uuid.NewString())
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	log := logx.WithDebugger(logx.WithSession(logger, id), cfg.Debugger.CodeName, cfg.Debugger.Backend)
	done := make(chan struct{})
	close(done)
	s := &Session{
		id:  id,
		cfg: cfg,
		parser: parser.ForDebugger(cfg.Debugger.CodeName,
			parser.WithThresholds(cfg.Thresholds),
			parser.WithLogger(log),
		),
		log:   log,
		state: schema.StateNotLoaded,
		app:   cfg.App,
		done:  done,
	}
	s.symbolResolution = netstate.UseSymbolResolution(
		pslog.ContextWithLogger(ctx, log),
		cfg.Debugger.SupportsSymbolResolution(),
		cfg.SymbolResolution,
		cfg.Network,
	)
	if log != nil {
		log.Debug("session created", "pid", cfg.App.PID, "symbol_resolution", s.symbolResolution)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID { return s.id }

// Parser returns the parser fed by this session. It may be read while an
// attempt is streaming.
func (s *Session) Parser() *parser.Parser { return s.parser }

// SymbolResolution reports whether attempts use the symbol-resolving command.
func (s *Session) SymbolResolution() bool { return s.symbolResolution }

// State returns the current state.
func (s *Session) State() schema.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the current attempt reaches a terminal state. Before
// the first start it is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the current attempt ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (schema.SessionState, error) {
	select {
	case <-s.Done():
		return s.State(), s.Err()
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Err returns the failure of the last attempt, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ParsedBacktrace returns the report of a loaded session: banner,
// information lines, then the visible backtrace. Empty otherwise.
func (s *Session) ParsedBacktrace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// SentryPayload returns the side-channel payload of the last attempt.
func (s *Session) SentryPayload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil {
		return nil
	}
	out := make([]byte, len(s.payload))
	copy(out, s.payload)
	return out
}

// Usefulness rates the report. Sessions that are not loaded are useless.
func (s *Session) Usefulness() schema.Usefulness {
	if s.State() != schema.StateLoaded {
		return schema.Useless
	}
	return s.parser.Usefulness()
}

// MissingSymbols lists libraries lacking debug symbols in a loaded report.
func (s *Session) MissingSymbols() []string {
	if s.State() != schema.StateLoaded {
		return nil
	}
	return s.parser.LibrariesWithMissingDebugSymbols()
}

// Start begins an attempt. It returns once the debugger check is done; the
// rest of the attempt runs in the background and is observable via events,
// Done and Wait. A debugger that is invalid or not installed ends the
// attempt in FailedToStart without creating any files. Cancelling ctx
// terminates the running debugger.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schema.ErrSessionClosed
	}
	if s.current != nil || s.state == schema.StateLoading {
		s.mu.Unlock()
		return schema.ErrSessionBusy
	}
	prev := s.state
	s.state = schema.StateLoading
	s.report = ""
	s.payload = nil
	s.lastErr = nil
	s.app = s.cfg.App
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.parser.Reset()
	if s.log != nil {
		s.log.Info("session start", "from", prev.String())
	}
	s.emitState(prev, schema.StateLoading)

	dbg := s.cfg.Debugger
	if !dbg.Valid() {
		err := newError(ErrorConfig, "check debugger", schema.ErrInvalidDebugger)
		s.fail(schema.StateFailedToStart, err)
		return err
	}
	if !dbg.Installed() {
		err := newError(ErrorConfig, "check debugger", fmt.Errorf("%s: %w", dbg.TryExec, schema.ErrDebuggerNotInstalled))
		s.fail(schema.StateFailedToStart, err)
		return err
	}

	a := &attempt{}
	s.mu.Lock()
	s.current = a
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.run(ctx, a)
	}()
	return nil
}

func (s *Session) run(ctx context.Context, a *attempt) {
	ctx = logx.ContextWithSession(pslog.ContextWithLogger(ctx, s.log), s.id)
	app := s.cfg.App
	if err := s.makeTempDir(a); err != nil {
		s.release(a)
		s.fail(schema.StateFailedToStart, err)
		return
	}
	if s.cfg.Preparer != nil {
		if err := s.cfg.Preparer.Prepare(ctx, &app, a.tempDir); err != nil {
			s.release(a)
			s.fail(schema.StateFailedToStart, newError(ErrorPrepare, "prepare "+s.cfg.Preparer.Name(), err))
			return
		}
		s.mu.Lock()
		s.app = app
		s.mu.Unlock()
	}
	if err := s.spawn(ctx, a, app); err != nil {
		s.release(a)
		s.fail(schema.StateFailedToStart, err)
		return
	}

	if s.pump(a) {
		if s.log != nil {
			s.log.Info("debugger detached", "pid", a.proc.pid())
		}
		payload := readSentryPayload(a.tempDir, s.log)
		s.finish(app, payload, nil)
		s.stopProcess(a)
		s.release(a)
		return
	}
	waitErr := a.proc.wait()
	payload := readSentryPayload(a.tempDir, s.log)
	s.release(a)
	s.finish(app, payload, classifyExit(waitErr))
}

// makeTempDir creates the attempt's private dir. Prepared files, command
// files and the sentry payload all live there until release.
func (s *Session) makeTempDir(a *attempt) error {
	dir, err := os.MkdirTemp(s.cfg.TempRoot, "crashtrace-*")
	if err != nil {
		return newError(ErrorSpawn, "create temp dir", err)
	}
	s.mu.Lock()
	a.tempDir = dir
	s.mu.Unlock()
	return nil
}

func (s *Session) spawn(ctx context.Context, a *attempt, app schema.CrashedApplication) error {
	dir := a.tempDir
	dbg := s.cfg.Debugger
	batchFile := filepath.Join(dir, batchFileName)
	preambleFile := filepath.Join(dir, preambleFileName)
	vars := debugger.Vars(app, batchFile, preambleFile)
	batch := debugger.Expand(dbg.BatchCommands, vars, debugger.UsagePlain) + "\n"
	if err := os.WriteFile(batchFile, []byte(batch), 0o600); err != nil {
		return newError(ErrorSpawn, "write batch commands", err)
	}
	preamble := debugger.Expand(dbg.PreambleCommands, vars, debugger.UsagePlain) + "\n"
	if err := os.WriteFile(preambleFile, []byte(preamble), 0o600); err != nil {
		return newError(ErrorSpawn, "write preamble", err)
	}
	args, err := debugger.SplitCommand(dbg.CommandTemplate(s.symbolResolution), vars)
	if err != nil {
		return newError(ErrorSpawn, "expand command", err)
	}
	if len(args) == 0 {
		return newError(ErrorSpawn, "expand command", schema.ErrInvalidDebugger)
	}
	stdinPath := ""
	if dbg.ExecInputFile != "" {
		stdinPath = debugger.Expand(dbg.ExecInputFile, vars, debugger.UsagePlain)
	}
	env := append(filterEnv(os.Environ(), "LC_ALL", TempDirEnv), "LC_ALL=C", TempDirEnv+"="+dir)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return newError(ErrorSpawn, "start debugger", schema.ErrSessionClosed)
	}
	proc, err := startProcess(ctx, spawnRequest{
		args:        args,
		env:         env,
		stdinPath:   stdinPath,
		killTimeout: s.cfg.KillTimeout,
	}, s.log)
	if err != nil {
		return newError(ErrorSpawn, "start debugger", err)
	}
	s.mu.Lock()
	a.proc = proc
	closed = s.closed
	s.mu.Unlock()
	if closed {
		// Close ran between the check and the start; it saw no process.
		s.stopProcess(a)
	}
	return nil
}

// pump streams stdout into the parser until EOF. It reports whether the
// debugger announced it detached.
func (s *Session) pump(a *attempt) bool {
	buf := make([]byte, 32*1024)
	lines := newLineBuffer()
	count := 0
	for {
		n, err := a.proc.stdout.Read(buf)
		if n > 0 {
			for _, line := range lines.Write(buf[:n]) {
				count++
				s.parser.NewLine(line)
				s.emitLine(line)
				if detachRe.MatchString(line) {
					return true
				}
			}
		}
		if err != nil {
			if s.log != nil {
				fields := []any{"lines", count}
				if pending := lines.Pending(); pending > 0 {
					fields = append(fields, "dropped_bytes", pending)
				}
				s.log.Debug("debugger output closed", fields...)
			}
			return false
		}
	}
}

func (s *Session) stopProcess(a *attempt) {
	s.mu.Lock()
	proc := a.proc
	s.mu.Unlock()
	if proc == nil {
		return
	}
	proc.stop(s.cfg.TerminateTimeout, s.cfg.KillTimeout)
}

// release removes the attempt's temp dir and detaches it from the session.
func (s *Session) release(a *attempt) {
	s.mu.Lock()
	dir := a.tempDir
	a.tempDir = ""
	if s.current == a {
		s.current = nil
	}
	s.mu.Unlock()
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil && s.log != nil {
		s.log.Warn("temp dir cleanup failed", "dir", dir, "err", err)
	}
}

func (s *Session) finish(app schema.CrashedApplication, payload []byte, exitErr error) {
	s.parser.NewLine("")
	if exitErr != nil {
		s.fail(schema.StateFailed, exitErr)
		return
	}
	vars := debugger.Vars(app, "", "")
	report := debugger.Expand(debugger.BannerTemplate, vars, debugger.UsagePlain) +
		s.parser.InformationLines() +
		s.parser.Text()

	s.mu.Lock()
	prev := s.state
	s.state = schema.StateLoaded
	s.report = report
	s.payload = payload
	done := s.done
	s.mu.Unlock()

	usefulness := s.parser.Usefulness()
	if s.log != nil {
		s.log.Info("session loaded", "usefulness", usefulness.String(), "bytes", len(report), "sentry", len(payload) > 0)
	}
	s.emitState(prev, schema.StateLoaded)
	if sink := s.sink(); sink != nil {
		sink.OnDone(schema.DoneEvent{SessionID: s.id, Usefulness: usefulness, Lines: len(s.parser.Lines())})
	}
	close(done)
}

func (s *Session) fail(state schema.SessionState, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.lastErr = err
	done := s.done
	s.mu.Unlock()

	if s.log != nil {
		s.log.Warn("session failed", "state", state.String(), "kind", string(KindOf(err)), "err", err)
	}
	s.emitState(prev, state)
	if sink := s.sink(); sink != nil {
		sink.OnError(schema.ErrorEvent{SessionID: s.id, State: state, Kind: string(KindOf(err)), Message: err.Error()})
	}
	close(done)
}

// Close tears the session down: a running debugger is terminated, then
// killed, then abandoned, and temp files are removed. No events are sent
// after Close.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	a := s.current
	s.mu.Unlock()

	if a != nil {
		if s.log != nil {
			s.log.Info("session close with running debugger")
		}
		s.stopProcess(a)
	}
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		if a != nil {
			s.release(a)
		}
		return ctx.Err()
	}
	if a != nil {
		s.release(a)
	}
	if s.log != nil {
		s.log.Debug("session closed", "state", s.State().String())
	}
	return nil
}

func (s *Session) sink() EventSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.cfg.Sink
}

func (s *Session) emitState(from, to schema.SessionState) {
	if sink := s.sink(); sink != nil {
		sink.OnState(schema.StateEvent{SessionID: s.id, From: from, To: to})
	}
}

func (s *Session) emitLine(line string) {
	if s.log != nil {
		s.log.Trace("debugger line", "line", line)
	}
	if sink := s.sink(); sink != nil {
		sink.OnLine(schema.LineEvent{SessionID: s.id, Line: line})
	}
}
