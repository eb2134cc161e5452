package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

var (
	notificationsOwner  string
	notificationsUnread bool
	notificationsLimit  int
)

// notificationsCmd represents the notifications command group
var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "In-app notification commands",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		if notificationsOwner == "" {
			return fmt.Errorf("--owner is required")
		}

		q := url.Values{}
		if notificationsUnread {
			q.Set("unread", "true")
		}
		if notificationsLimit > 0 {
			q.Set("limit", strconv.Itoa(notificationsLimit))
		}
		path := "/api/v1/owners/" + url.PathEscape(notificationsOwner) + "/notifications"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp struct {
			Items []*models.Notification `json:"items"`
		}
		if err := newAPIClient(serverURL).do(context.Background(), "GET", path, nil, &resp); err != nil {
			return err
		}

		if GetOutput() == "json" {
			return printJSON(cmd.OutOrStdout(), resp.Items)
		}
		printNotifications(cmd.OutOrStdout(), resp.Items)
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/notifications/" + url.PathEscape(args[0]) + "/read"
		if err := newAPIClient(serverURL).do(context.Background(), "POST", path, nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Notification %s marked as read.\n", args[0])
		return nil
	},
}

func init() {
	notificationsListCmd.Flags().StringVar(&notificationsOwner, "owner", "", "owner id (required)")
	notificationsListCmd.Flags().BoolVar(&notificationsUnread, "unread", false, "only unread notifications")
	notificationsListCmd.Flags().IntVar(&notificationsLimit, "limit", 0, "maximum number of notifications")

	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd)
	rootCmd.AddCommand(notificationsCmd)
}

func printNotifications(w io.Writer, items []*models.Notification) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No notifications found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSEVERITY\tREAD\tTITLE\tMESSAGE")
	for _, n := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			n.ID,
			n.CreatedAt.Local().Format("2006-01-02 15:04"),
			n.Severity,
			n.IsRead(),
			truncate(n.Title, 40),
			truncate(n.Message, 60),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d notification(s)\n", len(items))
}
