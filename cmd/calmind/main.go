package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "calmind",
	Short: "calmind — a quiet companion with a durable conversation",
	Long: `calmind runs a local companion chat daemon and a CLI to talk to it.

The daemon owns the conversation: identity, companion naming, message
history, and the OpenAI-backed replies. The CLI talks to it over a
bearer-authenticated local HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(signinCmd)
	rootCmd.AddCommand(nameCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(signoutCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
