package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/crashtrace/internal/appconfig"
	"pkt.systems/crashtrace/internal/backend"
	"pkt.systems/crashtrace/internal/debugger"
	"pkt.systems/crashtrace/internal/eventbus"
	"pkt.systems/crashtrace/internal/netstate"
	"pkt.systems/crashtrace/internal/session"
	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

type traceOptions struct {
	cfgPath    string
	app        schema.CrashedApplication
	debugger   string
	backend    string
	follow     bool
	noSymbols  bool
	outputPath string
}

func newTraceCmd() *cobra.Command {
	var opts traceOptions
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Run a debugger against a crashed process and rate the backtrace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadRuntime(cmd, opts.cfgPath)
			if err != nil {
				return err
			}
			return runTrace(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.cfgPath, "config", "c", "", "config file path")
	cmd.Flags().IntVar(&opts.app.PID, "pid", 0, "pid of the crashed process")
	cmd.Flags().IntVar(&opts.app.Signal, "signal", 0, "signal number that killed the process")
	cmd.Flags().StringVar(&opts.app.ExecutablePath, "exec", "", "path of the crashed executable")
	cmd.Flags().StringVar(&opts.app.ProgramName, "program", "", "human readable program name")
	cmd.Flags().IntVar(&opts.app.Thread, "thread", 0, "id of the crashing thread")
	cmd.Flags().StringVar(&opts.app.CoreFile, "core", "", "existing core dump to analyze")
	cmd.Flags().StringVar(&opts.debugger, "debugger", "", "debugger code name (overrides config)")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "backend name (overrides config)")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "stream debugger output while it runs")
	cmd.Flags().BoolVar(&opts.noSymbols, "no-symbol-resolution", false, "never ask the debugger to download symbols")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func runTrace(ctx context.Context, cfg appconfig.Config, opts traceOptions, stdout io.Writer) error {
	logger := pslog.Ctx(ctx)
	codeName := firstNonEmpty(opts.debugger, cfg.Debugger)
	backendName := firstNonEmpty(opts.backend, cfg.Backend)

	dbg, err := resolveDebugger(cfg, codeName, backendName, logger)
	if err != nil {
		return err
	}
	preparer, err := backend.For(backendName)
	if err != nil {
		return err
	}

	var detector netstate.Detector = netstate.Static(false)
	if cfg.MeteredDetection {
		detector = netstate.NetworkManager{}
	}

	bus := eventbus.New(logger)
	sess := session.New(ctx, session.Config{
		Debugger:         dbg,
		App:              opts.app,
		Preparer:         preparer,
		SymbolResolution: cfg.SymbolResolution && !opts.noSymbols,
		Network:          detector,
		TempRoot:         cfg.TempDir,
		TerminateTimeout: cfg.TerminateTimeout(),
		KillTimeout:      cfg.KillTimeout(),
		Thresholds:       cfg.Thresholds(),
		Sink:             bus,
		Logger:           logger,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.TerminateTimeout()+cfg.KillTimeout()+time.Second)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			logger.Warn("session close failed", "err", err)
		}
	}()

	events, cancel := bus.Subscribe(sess.ID())
	defer cancel()

	logger.Info("trace start", "debugger", dbg.CodeName, "backend", dbg.Backend, "pid", opts.app.PID, "symbol_resolution", sess.SymbolResolution())
	if err := sess.Start(ctx); err != nil {
		return err
	}
	followEvents(ctx, sess, events, opts.follow, os.Stderr)

	state, err := sess.Wait(ctx)
	if err != nil {
		return fmt.Errorf("debugger %s: %s: %w", dbg.CodeName, state, err)
	}
	if state != schema.StateLoaded {
		return fmt.Errorf("debugger %s ended in state %s", dbg.CodeName, state)
	}

	if err := writeReport(opts.outputPath, sess.ParsedBacktrace(), stdout); err != nil {
		return err
	}
	logger.Info("trace done",
		"usefulness", sess.Usefulness().String(),
		"missing_symbols", strings.Join(sess.MissingSymbols(), ","),
	)
	if payload := sess.SentryPayload(); payload != nil {
		if summary, ok := session.Summarize(payload); ok {
			logger.Info("sentry payload",
				"event_id", summary.EventID,
				"platform", summary.Platform,
				"exception", summary.ExceptionType,
				"frames", summary.Frames,
			)
		}
	}
	return nil
}

// followEvents drains the session events until the attempt ends, echoing
// output lines when follow is set.
func followEvents(ctx context.Context, sess *session.Session, events <-chan eventbus.Event, follow bool, out io.Writer) {
	logger := pslog.Ctx(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.EventLine:
				if follow {
					_, _ = io.WriteString(out, ev.Line.Line)
				}
			case eventbus.EventState:
				logger.Debug("session state", "from", ev.State.From.String(), "to", ev.State.To.String())
			case eventbus.EventError:
				logger.Warn("debugger attempt failed", "kind", ev.Error.Kind, "state", ev.Error.State.String(), "err", ev.Error.Message)
			}
		}
	}
}

func resolveDebugger(cfg appconfig.Config, codeName, backendName string, logger pslog.Logger) (debugger.Debugger, error) {
	descs, err := debugger.Load(cfg.DebuggersDir, logger)
	if err != nil {
		return debugger.Debugger{}, err
	}
	desc, err := debugger.Find(descs, codeName)
	if err != nil {
		return debugger.Debugger{}, err
	}
	return desc.ForBackend(backendName)
}

func writeReport(path, report string, stdout io.Writer) error {
	if strings.TrimSpace(path) == "" {
		_, err := io.WriteString(stdout, report)
		return err
	}
	return os.WriteFile(path, []byte(report), 0o600)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
