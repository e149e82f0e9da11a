// Package cmd defines the command-line interface.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/app"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/config"
)

var (
	debugFlag bool
	portFlag  int
	hostFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "copilot-provider",
	Short: "OpenAI and Anthropic compatible gateway backed by GitHub Copilot",
	Long: `Runs a local HTTP gateway that accepts OpenAI-style /v1/chat/completions
and Anthropic-style /v1/messages requests, forwards them to the GitHub Copilot
backend with your GitHub credentials, and answers in the caller's dialect.`,
	Version: config.AppVersion,
	RunE:    runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		viper.Set("port", portFlag)
	}
	if cmd.Flags().Changed("host") {
		viper.Set("host", hostFlag)
	}

	cfg, err := config.Load(debugFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.New(cfg).Run(ctx)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging")
	rootCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "listen port (overrides PORT)")
	rootCmd.Flags().StringVar(&hostFlag, "host", "", "listen host (overrides HOST)")

	rootCmd.AddCommand(authCmd)
}
