package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd(&cli{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventctl",
		Short: "Operate the socialbook event bus",
		Long: `eventctl publishes events on the socialbook exchange, declares and inspects
the queue topology, and reads the notifications stored by the notification worker.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at info level instead of warn")

	rootCmd.AddCommand(
		newPublishCmd(c),
		newTopologyCmd(c),
		newNotificationsCmd(c),
	)

	return rootCmd
}
