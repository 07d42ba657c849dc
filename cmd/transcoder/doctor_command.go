package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"transcoder/internal/broker"
	"transcoder/internal/config"
	"transcoder/internal/preflight"
)

// pinger is satisfied by the progress stores and the S3 blob store.
type pinger interface {
	Ping(ctx context.Context) error
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var skipRemote bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, encoder binaries, and backend connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var probes []preflight.Probe
			if !skipRemote {
				probes = remoteProbes(cfg, ctx.logger(cmd))
			}
			results := preflight.RunAll(cmd.Context(), cfg, probes...)

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Name, statusLabel(r.Passed), r.Detail})
			}
			printTable(cmd, []string{"Check", "Status", "Detail"}, rows, nil, "No checks ran")

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipRemote, "local", false, "Only check local directories and binaries")
	return cmd
}

func remoteProbes(cfg *config.Config, logger *slog.Logger) []preflight.Probe {
	return []preflight.Probe{
		{
			Name: "Broker",
			Ping: func(ctx context.Context) error {
				conn, err := broker.Dial(ctx, cfg, "transcoder-doctor", logger)
				if err != nil {
					return err
				}
				return conn.Close()
			},
		},
		{
			Name: "Progress store (" + cfg.Progress.Backend + ")",
			Ping: func(ctx context.Context) error {
				store, err := openProgressStore(ctx, cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				return store.Ping(ctx)
			},
		},
		{
			Name: "Artifact bucket",
			Ping: func(ctx context.Context) error {
				blobs, err := openBlobStore(ctx, cfg)
				if err != nil {
					return err
				}
				p, ok := blobs.(pinger)
				if !ok {
					return nil
				}
				return p.Ping(ctx)
			},
		},
	}
}

func statusLabel(passed bool) string {
	if passed {
		return "ok"
	}
	return "FAIL"
}
