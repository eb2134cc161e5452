package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

var rulesOwner string

// rulesCmd represents the rules command group
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Alert rule commands",
	Long: `Commands for working with alert rules.

Examples:
  # Validate a rules file offline
  alertctl rules validate rules.yaml

  # List an owner's rules on the server
  alertctl rules list --owner owner-1`,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a rules file",
	Long: `Parse and validate a rules file without contacting the server.

Every rule is checked and the derived rule IDs are printed, so the result
matches what the server stores when it loads the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateRulesFile(cmd.OutOrStdout(), args[0], GetOutput())
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rulesOwner == "" {
			return fmt.Errorf("--owner is required")
		}
		var resp struct {
			Items []*models.AlertRule `json:"items"`
		}
		client := newAPIClient(serverURL)
		if err := client.do(context.Background(), "GET", "/api/v1/owners/"+url.PathEscape(rulesOwner)+"/rules", nil, &resp); err != nil {
			return err
		}
		if GetOutput() == "json" {
			return printJSON(cmd.OutOrStdout(), resp.Items)
		}
		printRules(cmd.OutOrStdout(), resp.Items)
		return nil
	},
}

func init() {
	rulesListCmd.Flags().StringVar(&rulesOwner, "owner", "", "owner id")

	rulesCmd.AddCommand(rulesValidateCmd, rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}

// validateRulesFile loads path and prints the rules it defines.
func validateRulesFile(w io.Writer, path, format string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()

	rules, err := alerting.LoadRules(f)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	list := make([]*models.AlertRule, 0, len(rules))
	for _, r := range rules {
		list = append(list, r.ToModel(now))
	}

	if format == "json" {
		return printJSON(w, list)
	}
	printRules(w, list)
	fmt.Fprintf(w, "\n%d rule(s) valid\n", len(list))
	return nil
}

func printRules(w io.Writer, rules []*models.AlertRule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No rules found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tNAME\tTYPES\tTHRESHOLD\tWINDOW\tCOOLDOWN\tCHANNELS\tENABLED")
	for _, r := range rules {
		types := make([]string, len(r.MonitoredTypes))
		for i, t := range r.MonitoredTypes {
			types[i] = string(t)
		}
		channels := make([]string, len(r.Channels))
		for i, c := range r.Channels {
			channels[i] = string(c)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%t\n",
			truncate(r.ID, 12),
			r.OwnerID,
			truncate(r.Name, 30),
			strings.Join(types, ","),
			r.ThresholdCount,
			r.Window(),
			r.Cooldown(),
			strings.Join(channels, ","),
			r.Enabled,
		)
	}
	tw.Flush()
}
