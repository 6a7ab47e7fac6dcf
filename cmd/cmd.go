// Package cmd implements the mgmt command line.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/mgmt/internal/config"
	"github.com/xiaot623/gogo/mgmt/internal/logutil"
)

// NewCLI builds the root command with every subcommand attached.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mgmt",
		Short: "Signed management requests for remote agents",
		// Execute logs failures through slog.
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		newSendCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newServeCmd(),
		newAuditCmd(),
		newAuthURLCmd(),
	)

	return rootCmd
}

// Execute runs root and logs a returned error with logger. It returns the
// process exit code.
func Execute(ctx context.Context, root *cobra.Command, logger *slog.Logger) int {
	c, err := root.ExecuteContextC(ctx)
	if err != nil {
		logger.Error("command failed", "command", c.CommandPath(), "error", err)
		return 1
	}
	return 0
}

// loadConfig reads the environment and builds the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	return cfg, logutil.New(level, os.Stderr), nil
}

// stringFlag returns the flag value when set, otherwise fallback.
func stringFlag(cmd *cobra.Command, name, fallback string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return fallback
}
