package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"transcoder/internal/contracts"
	"transcoder/internal/progress"
	"transcoder/internal/stageexec"
)

type progressRow struct {
	EncodingID string `json:"encodingId"`
	Kind       string `json:"kind"`
	Value      string `json:"value"`
	State      string `json:"state"`
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "progress <videoId>",
		Short: "Show per-encoding progress for a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openProgressStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			videoID := strings.TrimSpace(args[0])
			entries, err := store.Entries(cmd.Context(), videoID)
			if err != nil {
				return fmt.Errorf("read progress for %s: %w", videoID, err)
			}
			rows := progressRows(entries)
			if asJSON {
				return writeJSON(cmd, rows)
			}

			table := make([][]string, 0, len(rows))
			for _, row := range rows {
				table = append(table, []string{row.EncodingID, row.Kind, row.Value, row.State})
			}
			printTable(cmd, []string{"Encoding", "Kind", "Progress", "State"}, table,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				fmt.Sprintf("No progress recorded for %s", videoID))
			return nil
		},
	}
	jsonFlag(cmd, &asJSON)
	return cmd
}

// progressRows orders known ids by ladder position and unknown ids after them.
func progressRows(entries map[contracts.EncodingID]string) []progressRow {
	order := make(map[contracts.EncodingID]int)
	for i, id := range contracts.EncodingIDs() {
		order[id] = i
	}
	ids := slices.Collect(maps.Keys(entries))
	slices.SortFunc(ids, func(a, b contracts.EncodingID) int {
		ai, aok := order[a]
		bi, bok := order[b]
		switch {
		case aok && bok:
			return ai - bi
		case aok:
			return -1
		case bok:
			return 1
		default:
			return strings.Compare(string(a), string(b))
		}
	})

	rows := make([]progressRow, 0, len(ids))
	for _, id := range ids {
		value := entries[id]
		rows = append(rows, progressRow{
			EncodingID: string(id),
			Kind:       kindLabel(id),
			Value:      value,
			State:      progressState(value),
		})
	}
	return rows
}

func kindLabel(id contracts.EncodingID) string {
	kind, err := contracts.Classify(id)
	if err != nil {
		return "-"
	}
	return stageexec.Label(kind.String())
}

func progressState(value string) string {
	switch {
	case value == progress.Completed:
		return "completed"
	case value == progress.Failed:
		return "failed"
	default:
		if _, ok := progress.ParsePercent(value); ok {
			return "running"
		}
		return "unknown"
	}
}
