package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/crashtrace/internal/appconfig"
	"pkt.systems/crashtrace/internal/logx"
	"pkt.systems/pslog"
)

func newLogger(w io.Writer) pslog.Logger {
	return pslog.LoggerFromEnv(
		pslog.WithEnvWriter(w),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
}

// loadRuntime reads the config and swaps the command logger for one that
// writes through the configured redaction rules.
func loadRuntime(cmd *cobra.Command, cfgPath string) (context.Context, appconfig.Config, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return cmd.Context(), appconfig.Config{}, err
	}
	if len(cfg.Logging.Secrets) == 0 && len(cfg.Logging.Redact) == 0 {
		return cmd.Context(), cfg, nil
	}
	sink, err := logx.NewRedactingLogSink(os.Stderr, logx.SecretsFromList(cfg.Logging.Secrets), cfg.Logging.Redact)
	if err != nil {
		return cmd.Context(), appconfig.Config{}, err
	}
	logger := newLogger(sink)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	ctx := pslog.ContextWithLogger(cmd.Context(), logger)
	cmd.SetContext(ctx)
	return ctx, cfg, nil
}
