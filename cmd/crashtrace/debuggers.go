package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/crashtrace/internal/debugger"
	"pkt.systems/pslog"
)

func newDebuggersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "debuggers",
		Short: "List known debuggers and whether they are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadRuntime(cmd, cfgPath)
			if err != nil {
				return err
			}
			descs, err := debugger.Load(cfg.DebuggersDir, pslog.Ctx(ctx))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, desc := range descs {
				for _, backendName := range desc.SupportedBackends() {
					dbg, err := desc.ForBackend(backendName)
					if err != nil {
						continue
					}
					source := desc.Source
					if source == "" {
						source = "builtin"
					}
					if _, err := fmt.Fprintf(out, "%s\t%s\t%s\tinstalled=%t\tsymbols=%t\t%s\n",
						desc.Name(), backendName, strings.TrimSpace(desc.DisplayName),
						dbg.Installed(), dbg.SupportsSymbolResolution(), source); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}
