package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/esap-cc/shortlinker/internal/ipc"
)

func newPingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check whether a server is running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := ipc.NewClient(opts.socketPath)
			var out struct {
				Status  string `json:"status"`
				Version string `json:"version"`
			}
			if err := client.Do(ipc.KindPing, nil, &out); err != nil {
				return fmt.Errorf("server not reachable: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server is up (version %s)\n", out.Version)
			return nil
		},
	}
}

func newReloadCommand(opts *rootOptions) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Reload server caches and/or configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := ipc.NewClient(opts.socketPath)
			var result map[string]any
			if err := client.Do(ipc.KindReload, map[string]string{"target": target}, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reload completed (target=%s)\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "all", "reload target: data, config or all")
	return cmd
}

func newShutdownCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Gracefully stop the running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := ipc.NewClient(opts.socketPath)
			if err := client.Do(ipc.KindShutdown, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Shutdown requested")
			return nil
		},
	}
}
