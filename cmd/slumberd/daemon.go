package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/slumber"
)

func createServeCommand() *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the slumber daemon",
		Long: `Run the daemon: supervise configured instances, stop idle ones, and
listen on their game ports while they sleep.

Examples:
  slumberd serve --config slumber.toml
  slumberd serve slumber.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("%w: use --config slumber.toml or pass it as an argument", slumber.ErrNoConfig)
			}
			return runServe(path)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return cmd
}

func runServe(path string) error {
	cfg, err := slumber.LoadConfig(path)
	if err != nil {
		return err
	}
	d, err := slumber.New(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
