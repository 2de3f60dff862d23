package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:3000"

func newRootCommand() *cobra.Command {
	var server string

	rootCmd := &cobra.Command{
		Use:           "cadence",
		Short:         "Generate music from a text prompt",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&server, "server", serverFromEnv(), "Cadence server base URL")

	rootCmd.AddCommand(newGenerateCommand(&server))
	rootCmd.AddCommand(newHealthCommand(&server))

	return rootCmd
}

func serverFromEnv() string {
	if v := os.Getenv("CADENCE_SERVER"); v != "" {
		return v
	}
	return defaultServer
}
