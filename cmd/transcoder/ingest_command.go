package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"transcoder/internal/broker"
	"transcoder/internal/contracts"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var videoURL string
	var container string
	var videoID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Publish a video.ingested event for a remote source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			msg, err := buildIngestMessage(videoID, videoURL, container)
			if err != nil {
				return err
			}

			pub, err := openPublisher(cmd.Context(), cfg, ctx.logger(cmd))
			if err != nil {
				return err
			}
			defer pub.Close()

			if err := publishIngest(cmd.Context(), pub, msg); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, msg)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Published %s\n", contracts.RoutingKeyVideoIngested)
			fmt.Fprintf(out, "Video ID: %s\n", msg.VideoID)
			return nil
		},
	}

	cmd.Flags().StringVar(&videoURL, "url", "", "Source video URL (https)")
	cmd.Flags().StringVar(&container, "container", "", "Source container hint, used when the server omits Content-Type")
	cmd.Flags().StringVar(&videoID, "video-id", "", "Video id (default: a new uuid)")
	jsonFlag(cmd, &asJSON)
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func buildIngestMessage(videoID, videoURL, container string) (contracts.VideoIngested, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		videoID = uuid.NewString()
	}
	msg := contracts.VideoIngested{
		VideoID:        videoID,
		VideoURL:       strings.TrimSpace(videoURL),
		VideoContainer: contracts.Container(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(container), "."))),
	}
	if err := msg.Validate(); err != nil {
		return contracts.VideoIngested{}, fmt.Errorf("invalid ingest request: %w", err)
	}
	return msg, nil
}

func publishIngest(ctx context.Context, pub broker.Publisher, msg contracts.VideoIngested) error {
	if err := pub.Publish(ctx, contracts.RoutingKeyVideoIngested, msg); err != nil {
		return fmt.Errorf("publish %s: %w", contracts.RoutingKeyVideoIngested, err)
	}
	return nil
}
