package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	"github.com/spf13/cobra"
)

func newTopologyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Inspect or declare the exchange and queues",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the configured topology without connecting",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				container, err := c.container()
				if err != nil {
					return err
				}
				defer container.Close(cmd.Context())

				printTopology(cmd.OutOrStdout(), container.Topology())
				return nil
			},
		},
		&cobra.Command{
			Use:   "declare",
			Short: "Declare the exchange, queues and bindings on the broker",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				container, err := c.container()
				if err != nil {
					return err
				}
				defer container.Close(cmd.Context())

				publisher := container.NewPublisher()
				defer publisher.Close()

				if err := publisher.Connect(cmd.Context()); err != nil {
					return fmt.Errorf("failed to declare topology: %w", err)
				}

				printTopology(cmd.OutOrStdout(), publisher.Topology())
				fmt.Fprintln(cmd.OutOrStdout(), "declared.")
				return nil
			},
		},
	)

	return cmd
}

func printTopology(w io.Writer, topo messaging.Topology) {
	fmt.Fprintf(w, "exchange %s (%s)\n\n", topo.Exchange.Name, topo.Exchange.Kind)
	fmt.Fprintf(w, "  %-36s  %s\n", "QUEUE", "BINDINGS")
	fmt.Fprintf(w, "  %-36s  %s\n", "------------------------------------", "--------")
	for _, q := range topo.Queues {
		fmt.Fprintf(w, "  %-36s  %s\n", q.Name, strings.Join(q.Bindings, ", "))
	}

	if topo.DeadLetter != nil {
		fmt.Fprintf(w, "\ndead letters: %s -> %s\n", topo.DeadLetter.Exchange, topo.DeadLetter.Queue)
	}
}
