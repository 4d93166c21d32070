// Package main is the entry point for the koishi bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/koishi/internal/app"
	"github.com/dshills/koishi/internal/config"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := buildRootCmd(stdin, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func buildRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "koishi",
		Short: "Koishi - a plugin-driven chat bot",
		Long: `Koishi dispatches chat messages through middleware and commands
registered by plugins. Platforms connect through adapters: a terminal
session, a WebSocket bridge and an MCP stdio server.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		buildRunCmd(stdin, stdout),
		buildMCPCmd(stdin, stdout),
		buildCheckCmd(),
		buildVersionCmd(),
	)
	return root
}

func buildRunCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var (
		configPath  string
		interactive bool
		watch       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot with the configured adapters",
		Example: `  # Chat with the bot in the terminal
  koishi run --cli

  # Serve the WebSocket bridge and reload plugins on config changes
  koishi run -c koishi.yaml --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), app.Options{
				ConfigPath: configPath,
				Watch:      watch,
				Stdin:      stdin,
				Stdout:     stdout,
				Version:    version,
				Configure: func(c *config.Config) {
					if interactive {
						c.Adapters.CLI.Enabled = true
					}
				},
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML configuration file")
	cmd.Flags().BoolVar(&interactive, "cli", false, "Enable the terminal adapter")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload plugins when the configuration file changes")
	return cmd
}

func buildMCPCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the bot as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), app.Options{
				ConfigPath: configPath,
				Stdin:      stdin,
				Stdout:     stdout,
				Version:    version,
				Configure: func(c *config.Config) {
					// Standard output carries the protocol.
					c.Adapters.CLI.Enabled = false
					c.Adapters.MCP.Enabled = true
					if c.Log.Output == "stdout" {
						c.Log.Output = "stderr"
					}
				},
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML configuration file")
	return cmd
}

func buildCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d plugins)\n", args[0], len(cfg.EnabledPlugins()))
			return nil
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "koishi %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// serve runs the application until ctx is cancelled or an input-driven
// adapter reaches the end of its input.
func serve(ctx context.Context, opts app.Options) error {
	application, err := app.New(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		shutdown(application)
		return err
	}

	select {
	case <-ctx.Done():
	case <-application.Done():
	}
	return shutdown(application)
}

func shutdown(application *app.Application) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(ctx); err != nil && !errors.Is(err, app.ErrNotRunning) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
