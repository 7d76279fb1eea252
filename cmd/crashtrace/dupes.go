package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pkt.systems/crashtrace/internal/bugarchive"
	"pkt.systems/crashtrace/internal/duplicates"
	"pkt.systems/crashtrace/internal/parser"
	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

func newDupesCmd() *cobra.Command {
	var cfgPath string
	var debuggerName string
	var bugIDs []int
	cmd := &cobra.Command{
		Use:   "dupes [file]",
		Short: "Search the bug archive for a report this backtrace duplicates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadRuntime(cmd, cfgPath)
			if err != nil {
				return err
			}
			logger := pslog.Ctx(ctx)
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			p := parser.ForDebugger(firstNonEmpty(debuggerName, cfg.Debugger), parser.WithLogger(logger))
			p.FeedText(text)
			ours := p.Lines()
			if len(ours) == 0 {
				return schema.ErrNoBacktrace
			}

			store, err := bugarchive.NewStoreWithLogger(cfg.Duplicates.ArchiveDir, logger)
			if err != nil {
				return err
			}
			candidates, err := candidateBugs(ctx, store, bugIDs)
			if err != nil {
				return err
			}
			logger.Info("duplicate search start", "candidates", len(candidates), "archive_dir", cfg.Duplicates.ArchiveDir)

			finder := duplicates.NewFinder(store,
				duplicates.WithMaxChainHops(cfg.Duplicates.MaxChainHops),
				duplicates.WithLogger(logger),
			)
			select {
			case res := <-finder.Start(ctx, ours, candidates):
				return writeDuplicate(cmd.OutOrStdout(), res)
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&debuggerName, "debugger", "", "grammar of the backtrace")
	cmd.Flags().IntSliceVar(&bugIDs, "bug", nil, "candidate bug id (repeatable, defaults to the whole archive)")
	return cmd
}

// candidateBugs returns the requested bugs in order, or every archived bug.
func candidateBugs(ctx context.Context, store *bugarchive.Store, ids []int) ([]schema.Bug, error) {
	if len(ids) == 0 {
		return store.List()
	}
	out := make([]schema.Bug, 0, len(ids))
	for _, id := range ids {
		bug, err := store.Bug(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, bug)
	}
	return out, nil
}

func writeDuplicate(w io.Writer, res duplicates.Result) error {
	if !res.Found() {
		_, err := fmt.Fprintln(w, "no duplicate found")
		return err
	}
	if res.Duplicate > 0 && res.Duplicate != res.ParentDuplicate {
		if _, err := fmt.Fprintf(w, "duplicate: bug %d (marked duplicate)\n", res.Duplicate); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "parent: bug %d status=%s resolution=%s\n", res.ParentDuplicate, res.Status, res.Resolution)
	return err
}
