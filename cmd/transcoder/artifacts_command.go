package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"transcoder/internal/blobstore"
	"transcoder/internal/progress"
	"transcoder/internal/stitcher"
)

type artifactsReport struct {
	VideoID   string           `json:"videoId"`
	Completed []string         `json:"completed"`
	Manifest  string           `json:"manifest,omitempty"`
	Objects   []blobstore.Blob `json:"objects,omitempty"`
}

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	var listObjects bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "artifacts <videoId>",
		Short: "Show completed encodings and stored artifacts for a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			videoID := strings.TrimSpace(args[0])

			store, err := openProgressStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.Entries(cmd.Context(), videoID)
			if err != nil {
				return fmt.Errorf("read progress for %s: %w", videoID, err)
			}

			report := artifactsReport{VideoID: videoID, Completed: []string{}}
			for _, id := range progress.CompletedEncodings(entries) {
				report.Completed = append(report.Completed, string(id))
			}

			if listObjects {
				blobs, err := openBlobStore(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				objects, err := blobs.List(cmd.Context(), blobstore.VideoPrefix(videoID))
				if err != nil {
					return fmt.Errorf("list artifacts for %s: %w", videoID, err)
				}
				report.Objects = objects
				for _, obj := range objects {
					if stitcher.IsMasterManifest(obj) {
						report.Manifest = obj.Key
					}
				}
			}

			if asJSON {
				return writeJSON(cmd, report)
			}
			renderArtifacts(cmd, report, listObjects)
			return nil
		},
	}

	cmd.Flags().BoolVar(&listObjects, "objects", false, "Also list objects stored in the artifact bucket")
	jsonFlag(cmd, &asJSON)
	return cmd
}

func renderArtifacts(cmd *cobra.Command, report artifactsReport, listObjects bool) {
	out := cmd.OutOrStdout()
	if len(report.Completed) == 0 {
		fmt.Fprintf(out, "No completed encodings for %s\n", report.VideoID)
	} else {
		fmt.Fprintf(out, "Completed encodings: %s\n", strings.Join(report.Completed, ", "))
	}
	if !listObjects {
		return
	}
	if report.Manifest != "" {
		fmt.Fprintf(out, "Master manifest: %s\n", report.Manifest)
	}

	rows := make([][]string, 0, len(report.Objects))
	var total int64
	for _, obj := range report.Objects {
		total += obj.Size
		rows = append(rows, []string{obj.Key, obj.ContentType, strconv.FormatInt(obj.Size, 10)})
	}
	printTable(cmd, []string{"Key", "Content Type", "Bytes"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight}, "No objects stored")
	if len(rows) > 0 {
		fmt.Fprintf(out, "%d objects, %d bytes total\n", len(rows), total)
	}
}
