package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/crashtrace/internal/bugarchive"
	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage the local bug archive used for duplicate search",
	}
	cmd.AddCommand(newArchivePutCmd())
	cmd.AddCommand(newArchiveImportCmd())
	cmd.AddCommand(newArchiveListCmd())
	return cmd
}

func newArchivePutCmd() *cobra.Command {
	var cfgPath string
	var record bugarchive.Record
	var status string
	var resolution string
	cmd := &cobra.Command{
		Use:   "put [comment-file...]",
		Short: "Store a bug with comments read from files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadRuntime(cmd, cfgPath)
			if err != nil {
				return err
			}
			record.Status = schema.ParseBugStatus(status)
			record.Resolution = schema.ParseBugResolution(resolution)
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				record.Comments = append(record.Comments, string(data))
			}
			store, err := bugarchive.NewStoreWithLogger(cfg.Duplicates.ArchiveDir, pslog.Ctx(ctx))
			if err != nil {
				return err
			}
			if err := store.Save(record); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored bug %d (%d comments)\n", record.ID, len(record.Comments))
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().IntVar(&record.ID, "id", 0, "bug id")
	cmd.Flags().StringVar(&status, "status", "UNCONFIRMED", "bug status")
	cmd.Flags().StringVar(&resolution, "resolution", "---", "bug resolution")
	cmd.Flags().IntVar(&record.DupeOf, "dupe-of", 0, "bug this one duplicates")
	cmd.Flags().StringVar(&record.Summary, "summary", "", "bug summary")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newArchiveImportCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "import <record.json>...",
		Short: "Store bug records exported as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadRuntime(cmd, cfgPath)
			if err != nil {
				return err
			}
			store, err := bugarchive.NewStoreWithLogger(cfg.Duplicates.ArchiveDir, pslog.Ctx(ctx))
			if err != nil {
				return err
			}
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				var record bugarchive.Record
				if err := json.Unmarshal(data, &record); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if err := store.Save(record); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "stored bug %d\n", record.ID); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}

func newArchiveListCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived bugs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadRuntime(cmd, cfgPath)
			if err != nil {
				return err
			}
			store, err := bugarchive.NewStoreWithLogger(cfg.Duplicates.ArchiveDir, pslog.Ctx(ctx))
			if err != nil {
				return err
			}
			bugs, err := store.List()
			if err != nil {
				return err
			}
			for _, bug := range bugs {
				line := fmt.Sprintf("%d\t%s\t%s", bug.ID, bug.Status, bug.Resolution)
				if bug.DupeOf > 0 {
					line += fmt.Sprintf("\tdupe_of=%d", bug.DupeOf)
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}
