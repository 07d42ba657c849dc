package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"transcoder/internal/config"
	"transcoder/internal/contracts"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var envFlag string

	stageNames := make([]string, 0, len(contracts.Bindings()))
	for _, b := range contracts.Bindings() {
		stageNames = append(stageNames, b.Stage)
	}

	cmd := &cobra.Command{
		Use:           "transcoderd <stage>",
		Short:         "Run one transcoder pipeline stage",
		Long:          "Run one transcoder pipeline stage. Stages: " + strings.Join(stageNames, ", "),
		Args:          cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:     stageNames,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFlag); err != nil {
				return err
			}
			cfg, _, _, err := config.Load(strings.TrimSpace(configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			return runStage(cmd.Context(), cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&envFlag, "env-file", "", "Environment file loaded before configuration (default .env when present)")
	return cmd
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
