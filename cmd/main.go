// Package main provides the typesprint binary: the socket server plus the
// developer and terminal-client commands around it.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var devMode bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "typesprint",
		Short:        "Typing practice server and terminal client",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "load .env and log to the console")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPracticeCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newPublishCmd())
	return rootCmd
}
