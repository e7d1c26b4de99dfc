package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/loykin/slumber/pkg/client"
)

func apiClient(f *APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.URL, Timeout: f.Timeout})
}

func reachable(ctx context.Context, c *client.Client) error {
	if !c.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable - start it first with 'slumberd serve'")
	}
	return nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// oneInstance wraps a RunE body that needs exactly one instance-name arg.
func oneInstance(f *APIFlags, run func(ctx context.Context, c *client.Client, name string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c := apiClient(f)
		ctx := cmd.Context()
		if err := reachable(ctx, c); err != nil {
			return err
		}
		return run(ctx, c, args[0])
	}
}

func createListCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all instances with their runtime status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(f)
			ctx := cmd.Context()
			if err := reachable(ctx, c); err != nil {
				return err
			}
			all, err := c.List(ctx)
			if err != nil {
				return err
			}
			printJSON(all)
			return nil
		},
	}
}

func createStatusCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <instance>",
		Short: "Show the runtime status of one instance",
		Args:  cobra.ExactArgs(1),
		RunE: oneInstance(f, func(ctx context.Context, c *client.Client, name string) error {
			st, err := c.Status(ctx, name)
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		}),
	}
}

func createStartCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <instance>",
		Short: "Start an instance",
		Args:  cobra.ExactArgs(1),
		RunE: oneInstance(f, func(ctx context.Context, c *client.Client, name string) error {
			res, err := c.Start(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("started %s (pid %d)\n", name, res.PID)
			return nil
		}),
	}
}

func createStopCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <instance>",
		Short: "Gracefully stop an instance",
		Args:  cobra.ExactArgs(1),
		RunE: oneInstance(f, func(ctx context.Context, c *client.Client, name string) error {
			res, err := c.Stop(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("stopped %s (status %s)\n", name, res.Status)
			return nil
		}),
	}
}

func createRestartCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <instance>",
		Short: "Restart an instance",
		Args:  cobra.ExactArgs(1),
		RunE: oneInstance(f, func(ctx context.Context, c *client.Client, name string) error {
			res, err := c.Restart(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("restarted %s (pid %d)\n", name, res.PID)
			return nil
		}),
	}
}

func createWakeCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "wake <instance>",
		Short: "Wake a sleeping instance as a player connection would",
		Args:  cobra.ExactArgs(1),
		RunE: oneInstance(f, func(ctx context.Context, c *client.Client, name string) error {
			res, err := c.Wake(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("wake %s: %s\n", name, res.Status)
			return nil
		}),
	}
}

func createPingCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping <instance>",
		Short: "Status-query a running instance through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: oneInstance(f, func(ctx context.Context, c *client.Client, name string) error {
			res, err := c.Ping(ctx, name)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		}),
	}
}

func createHistoryCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <instance>",
		Short: "Show recent lifecycle events for an instance",
		Args:  cobra.ExactArgs(1),
		RunE: oneInstance(f, func(ctx context.Context, c *client.Client, name string) error {
			entries, err := c.History(ctx, name)
			if err != nil {
				return err
			}
			printJSON(entries)
			return nil
		}),
	}
}

func createCommandCommand(f *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "command <instance> <console command...>",
		Short: "Send a console command line to a running instance",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(f)
			ctx := cmd.Context()
			if err := reachable(ctx, c); err != nil {
				return err
			}
			if err := c.SendCommand(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "sent")
			return nil
		},
	}
}
