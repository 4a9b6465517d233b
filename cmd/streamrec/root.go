package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

type cliOptions struct {
	server  string
	timeout time.Duration
	json    bool
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:           "streamrec",
		Short:         "Client du planificateur de captures radio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("STREAMREC_SERVER_URL", "http://127.0.0.1:8080"), "URL du serveur")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout HTTP")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Sortie JSON brute")

	rootCmd.AddCommand(newHealthCommand(opts))
	rootCmd.AddCommand(newVersionCommand(opts))
	rootCmd.AddCommand(newStationsCommand(opts))
	rootCmd.AddCommand(newScheduleCommand(opts))
	rootCmd.AddCommand(newRecordingsCommand(opts))

	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
