package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/ingest"
)

var (
	eventOwner   string
	eventType    string
	eventCode    string
	eventPath    string
	eventMessage string
	eventCount   int
)

type sendResult struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
	Outcome   *struct {
		Success          bool `json:"success"`
		ProcessedConfigs int  `json:"processed_configs"`
		Fired            int  `json:"fired"`
		Suppressed       int  `json:"suppressed"`
		Failed           int  `json:"failed"`
	} `json:"outcome"`
}

// eventsCmd represents the events command group
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Error event commands",
}

var eventsSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send test error events",
	Long: `Send one or more error events to the server and print how each was
evaluated.

Example:
  alertctl events send --owner owner-1 --type auth_error --count 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ingest.Payload{
			OwnerID:   eventOwner,
			ErrorType: eventType,
			ErrorCode: eventCode,
			Path:      eventPath,
			Message:   eventMessage,
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if eventCount < 1 {
			return fmt.Errorf("--count must be positive")
		}

		client := newAPIClient(serverURL)
		w := cmd.OutOrStdout()
		var results []sendResult
		for i := 0; i < eventCount; i++ {
			var res sendResult
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := client.do(ctx, "POST", "/api/v1/errors", p, &res)
			cancel()
			if err != nil {
				return fmt.Errorf("event %d: %w", i+1, err)
			}
			results = append(results, res)

			if GetOutput() == "json" {
				continue
			}
			status := "recorded"
			switch {
			case res.Ignored:
				status = "ignored"
			case res.Duplicate:
				status = "duplicate"
			}
			if res.Outcome != nil {
				fmt.Fprintf(w, "%s  %-9s  rules=%d fired=%d suppressed=%d failed=%d\n",
					res.EventID, status, res.Outcome.ProcessedConfigs, res.Outcome.Fired,
					res.Outcome.Suppressed, res.Outcome.Failed)
			} else {
				fmt.Fprintf(w, "%s  %s\n", res.EventID, status)
			}
		}

		if GetOutput() == "json" {
			return printJSON(w, results)
		}
		return nil
	},
}

func init() {
	eventsSendCmd.Flags().StringVar(&eventOwner, "owner", "", "owner id (required)")
	eventsSendCmd.Flags().StringVar(&eventType, "type", "", "error type: 404, auth_error, api_error, unhandled_error, network_error (required)")
	eventsSendCmd.Flags().StringVar(&eventCode, "code", "", "error code")
	eventsSendCmd.Flags().StringVar(&eventPath, "path", "", "request path")
	eventsSendCmd.Flags().StringVar(&eventMessage, "message", "", "error message")
	eventsSendCmd.Flags().IntVarP(&eventCount, "count", "n", 1, "number of events to send")

	eventsCmd.AddCommand(eventsSendCmd)
	rootCmd.AddCommand(eventsCmd)
}
