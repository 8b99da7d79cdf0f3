// Package cli implements the apex command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	projectPath string
	verbose     bool
	quiet       bool
	jsonOut     bool
)

var rootCmd = &cobra.Command{
	Use:   "apex",
	Short: "Autonomous AI development daemon",
	Long: `apex runs AI coding agents against your repository: tasks are queued,
executed through staged workflows, checkpointed, and pushed as pull
requests, all within a daily budget.

Quick start:
  apex setup                       Configure budget, autonomy, hosting
  apex new "Fix login timeout"     Create and queue a task
  apex serve                       Run the daemon and API
  apex list                        See task status`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "C", ".", "project directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newNewCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newLogCmd())
	rootCmd.AddCommand(newPauseCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newTemplateCmd())
	rootCmd.AddCommand(newPRCmd())
	rootCmd.AddCommand(newSetupCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig points viper at .apex/config.yaml and binds APEX_*
// environment variables (dots become underscores).
func initConfig() {
	viper.AddConfigPath(".apex")
	viper.AddConfigPath("$HOME/.apex")
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")

	viper.SetEnvPrefix("APEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// cliLogger builds the slog handler commands hand to the orchestrator:
// debug when verbose, errors only when quiet, warnings otherwise.
func cliLogger() *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
