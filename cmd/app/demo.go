package main

import (
	"context"
	"log/slog"
	"os"

	"nftmarket/internal/app"
	"nftmarket/internal/infra"

	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a list, buy and withdraw walkthrough on an in-memory chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if debug {
			level = "debug"
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: infra.ParseLevel(level)})))

		bootstrap := app.NewBootstrap()
		if err := bootstrap.LoadConfig(configPath); err != nil {
			return err
		}
		return app.RunDemo(context.Background(), bootstrap.Config, cmd.OutOrStdout())
	},
}

