// Package cli implements the cobra command tree: the server entrypoint
// plus link and config management commands that talk to a running server
// over IPC, falling back to direct storage access when none is running.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/esap-cc/shortlinker/pkg/logger"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// rootOptions carries the global flags.
type rootOptions struct {
	socketPath string
	logLevel   string
}

// NewRootCommand assembles the CLI.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "shortlinker",
		Short:         "High-throughput URL shortener",
		Long:          "shortlinker maps short codes to target URLs with layered caching,\nbuffered click analytics and a DB-backed configuration store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.socketPath, "socket", "", "IPC socket path of the running server")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(opts),
		newLinkCommand(opts),
		newConfigCommand(opts),
		newPingCommand(opts),
		newReloadCommand(opts),
		newShutdownCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shortlinker %s\n", Version)
		},
	}
}

// newCLILogger builds the logger used by CLI commands; quiet by default
// so command output stays parseable.
func newCLILogger(opts *rootOptions) *slog.Logger {
	level := opts.logLevel
	if level == "" {
		level = envOr("LOG_LEVEL", "warn")
	}
	return logger.NewLogger(logger.Config{
		Level:  level,
		Format: envOr("LOG_FORMAT", "text"),
		Output: "stderr",
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
