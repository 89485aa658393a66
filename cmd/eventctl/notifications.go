package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hilthontt/socialbook/internal/domain"
	"github.com/spf13/cobra"
)

func newNotificationsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Read stored notifications",
	}

	cmd.AddCommand(newNotificationsListCmd(c), newNotificationsReadCmd(c))
	return cmd
}

func newNotificationsListCmd(c *cli) *cobra.Command {
	var (
		user  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest notifications of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.container()
			if err != nil {
				return err
			}
			defer container.Close(cmd.Context())

			repo, closeRepo, err := c.repository(cmd.Context(), container)
			if err != nil {
				return err
			}
			defer closeRepo()

			notifications, err := repo.ListByUser(cmd.Context(), user, limit)
			if err != nil {
				return fmt.Errorf("failed to list notifications: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(notifications) == 0 {
				fmt.Fprintf(out, "No notifications for %s.\n", user)
				return nil
			}

			printNotificationHeader(out)
			for _, n := range notifications {
				printNotification(out, n)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "username whose notifications to list")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultNotificationLimit, "maximum number of notifications")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newNotificationsReadCmd(c *cli) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.container()
			if err != nil {
				return err
			}
			defer container.Close(cmd.Context())

			repo, closeRepo, err := c.repository(cmd.Context(), container)
			if err != nil {
				return err
			}
			defer closeRepo()

			n, err := repo.MarkRead(cmd.Context(), args[0], user)
			if errors.Is(err, domain.ErrNotificationNotFound) {
				return fmt.Errorf("notification %s not found for %s", args[0], user)
			}
			if err != nil {
				return fmt.Errorf("failed to mark notification as read: %w", err)
			}

			printNotificationHeader(cmd.OutOrStdout())
			printNotification(cmd.OutOrStdout(), *n)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "username that owns the notification")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func printNotificationHeader(w io.Writer) {
	fmt.Fprintf(w, "  %-36s  %-4s  %-20s  %-16s  %s\n", "ID", "READ", "CREATED", "FROM", "MESSAGE")
}

func printNotification(w io.Writer, n domain.Notification) {
	read := "no"
	if n.Read {
		read = "yes"
	}
	fmt.Fprintf(w, "  %-36s  %-4s  %-20s  %-16s  %s\n", n.ID, read, n.CreatedAt.UTC().Format(time.RFC3339), n.Actor, n.Message)
}
