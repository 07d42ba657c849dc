package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"transcoder/internal/staging"
)

func newSharedCommand(ctx *commandContext) *cobra.Command {
	sharedCmd := &cobra.Command{
		Use:   "shared",
		Short: "Inspect or sweep the shared job directory",
	}
	sharedCmd.AddCommand(newSharedListCommand(ctx))
	sharedCmd.AddCommand(newSharedCleanCommand(ctx))
	return sharedCmd
}

func newSharedListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List downloaded sources and job directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			entries, err := staging.List(cfg.Paths.SharedDir)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				locked := ""
				if e.Locked {
					locked = "encoding"
				}
				rows = append(rows, []string{
					string(e.Kind), e.VideoID, string(e.EncodingID),
					strconv.FormatInt(e.Size, 10),
					time.Since(e.ModTime).Truncate(time.Second).String(),
					locked,
				})
			}
			printTable(cmd, []string{"Kind", "Video", "Encoding", "Bytes", "Age", "State"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				"Shared directory is empty")
			return nil
		},
	}
	jsonFlag(cmd, &asJSON)
	return cmd
}

func newSharedCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove sources and job directories left behind by failed messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			result := staging.CleanStale(cmd.Context(), cfg.Paths.SharedDir, olderThan, ctx.logger(cmd))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d, skipped %d in use\n", len(result.Removed), len(result.Skipped))
			for _, path := range result.Removed {
				fmt.Fprintf(out, "  removed %s\n", path)
			}
			if len(result.Errors) > 0 {
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  error %s: %v\n", e.Path, e.Error)
				}
				return fmt.Errorf("%d entries could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 72*time.Hour, "Only remove entries not modified for this long")
	return cmd
}
