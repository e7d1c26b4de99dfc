package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	apiFlags := &APIFlags{}

	root := &cobra.Command{
		Use:   "slumberd",
		Short: "Game server instance supervisor with idle sleep and wake-on-connect",
		Long: `Slumberd supervises game server instances: it starts and stops them,
puts idle servers to sleep, and wakes them again when a player connects.

Examples:
  slumberd serve --config slumber.toml   # run the daemon
  slumberd status survival               # runtime status of one instance
  slumberd stop survival                 # graceful stop via the daemon`,
	}

	root.PersistentFlags().StringVar(&apiFlags.URL, "api-url", "http://127.0.0.1:8113", "daemon API base URL")
	root.PersistentFlags().DurationVar(&apiFlags.Timeout, "api-timeout", 0, "daemon API request timeout")

	root.AddCommand(
		createServeCommand(),
		createListCommand(apiFlags),
		createStatusCommand(apiFlags),
		createStartCommand(apiFlags),
		createStopCommand(apiFlags),
		createRestartCommand(apiFlags),
		createWakeCommand(apiFlags),
		createPingCommand(apiFlags),
		createHistoryCommand(apiFlags),
		createCommandCommand(apiFlags),
	)
	return root
}
