package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := newLogger(os.Stderr)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	args := applyArgv0Alias(os.Args)
	root := newRootCmd()
	root.SetArgs(args[1:])

	cmd, err := root.ExecuteContextC(ctx)
	if err != nil {
		if cmd != nil && cmd.Context() != nil {
			ctx = cmd.Context()
		}
		pslog.Ctx(ctx).With("err", err).Error("crashtrace command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crashtrace",
		Short:         "Collect, rate and deduplicate crash backtraces",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newTraceCmd())
	root.AddCommand(newRateCmd())
	root.AddCommand(newDupesCmd())
	root.AddCommand(newArchiveCmd())
	root.AddCommand(newDebuggersCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// argv0Alias maps the names crash handlers invoke us by to a subcommand.
func argv0Alias(base string) string {
	switch base {
	case "crashtrace-handler":
		return "trace"
	case "crashtrace-rate":
		return "rate"
	default:
		return ""
	}
}

func applyArgv0Alias(args []string) []string {
	if len(args) == 0 {
		return args
	}
	alias := argv0Alias(filepath.Base(args[0]))
	if alias == "" {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], alias)
	out = append(out, args[1:]...)
	return out
}
