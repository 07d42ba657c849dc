package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"transcoder/internal/broker"
	"transcoder/internal/config"
	"transcoder/internal/contracts"
)

func newProvisionCommand(ctx *commandContext) *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Declare the exchanges and stage queues on the broker",
		Long: "Declare the main and retry topic exchanges plus every stage queue and\n" +
			"its retry companion. Safe to run repeatedly against a live broker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			bindings, err := selectBindings(stageName)
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd)

			conn, err := broker.Dial(cmd.Context(), cfg, "transcoder-provision", logger)
			if err != nil {
				return err
			}
			defer conn.Close()
			ch, err := broker.OpenChannel(conn, cfg.AMQP.Prefetch)
			if err != nil {
				return err
			}
			defer ch.Close()

			if err := provisionTopology(ch, cfg, bindings, logger); err != nil {
				return err
			}
			printTable(cmd, []string{"Stage", "Queue", "Retry Queue", "Pattern"}, bindingRows(bindings), nil, "")
			return nil
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "", "Provision only this stage's queues")
	return cmd
}

func provisionTopology(ch broker.Declarer, cfg *config.Config, bindings []contracts.Binding, logger *slog.Logger) error {
	p := broker.NewProvisioner(ch, cfg.AMQP.Exchange, cfg.RetryTTL(), logger)
	if err := p.EnsureExchanges(); err != nil {
		return err
	}
	return p.EnsureTopology(bindings)
}

func selectBindings(stageName string) ([]contracts.Binding, error) {
	if stageName == "" {
		return contracts.Bindings(), nil
	}
	b, ok := contracts.BindingForStage(stageName)
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", stageName)
	}
	return []contracts.Binding{b}, nil
}

func bindingRows(bindings []contracts.Binding) [][]string {
	rows := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		rows = append(rows, []string{b.Stage, b.Queue, b.RetryQueue(), b.Pattern})
	}
	return rows
}
