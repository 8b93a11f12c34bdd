package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/victornm/quiztaker/internal/config"
	"github.com/victornm/quiztaker/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "quiztaker",
		Short:         "Timed quiz taking with scored results and leaderboards",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config, defaults to $CONFIG_PATH")
	cmd.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newTokenCmd(&configPath),
	)

	return cmd
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
