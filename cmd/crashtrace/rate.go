package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/crashtrace/internal/parser"
	"pkt.systems/pslog"
)

func newRateCmd() *cobra.Command {
	var cfgPath string
	var debuggerName string
	cmd := &cobra.Command{
		Use:   "rate [file]",
		Short: "Rate a saved backtrace (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadRuntime(cmd, cfgPath)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			p := parser.ForDebugger(firstNonEmpty(debuggerName, cfg.Debugger),
				parser.WithThresholds(cfg.Thresholds()),
				parser.WithLogger(pslog.Ctx(ctx)),
			)
			p.FeedText(text)
			return writeRating(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&debuggerName, "debugger", "", "grammar of the backtrace (gdb, lldb, cdb, kdbgwin)")
	return cmd
}

func writeRating(w io.Writer, p *parser.Parser) error {
	rating := p.Rating()
	if _, err := fmt.Fprintf(w, "usefulness: %s (score %d of %d)\n", rating.Usefulness, rating.Score, rating.BestScore); err != nil {
		return err
	}
	if rating.CompositorCrashed {
		if _, err := fmt.Fprintln(w, "compositor crashed: yes"); err != nil {
			return err
		}
	}
	if len(rating.MissingSymbols) > 0 {
		if _, err := fmt.Fprintf(w, "missing debug symbols: %s\n", strings.Join(rating.MissingSymbols, ", ")); err != nil {
			return err
		}
	}
	if rating.Simplified == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "simplified backtrace:\n%s", rating.Simplified)
	return err
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	return string(data), err
}

