package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the current request",
	Long: `Fetches GET /get_status/{request_id} for the most recent submission.
With --wait the status is polled with capped exponential backoff until the
request completes, is put on hold or errors, or the attempt budget runs out.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		wait, _ := cmd.Flags().GetBool("wait")

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		requestID := s.ctrl.RequestID()
		if requestID == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No request submitted.")
			return nil
		}

		var status *farmdata.StatusRecord
		if wait {
			status, err = s.ctrl.WaitForStatus(ctx, s.pollOptions()...)
		} else {
			status, err = s.ctrl.CheckStatus(ctx)
		}
		s.recordStatus(ctx, requestID, status)
		if status != nil {
			printStatus(cmd.OutOrStdout(), requestID, *status)
		}
		return err
	},
}

var statusTitle = cases.Title(language.English)

// statusLabel renders a server status for people, e.g. "completed" -> "Completed".
func statusLabel(status string) string {
	if status == "" {
		return "Unknown"
	}
	return statusTitle.String(status)
}

func printStatus(w io.Writer, requestID string, s farmdata.StatusRecord) {
	fmt.Fprintf(w, "Request:  %s\n", requestID)
	fmt.Fprintf(w, "Status:   %s\n", statusLabel(s.Status))
	if s.Message != "" {
		fmt.Fprintf(w, "Message:  %s\n", s.Message)
	}
	fmt.Fprintf(w, "Download: %s\n", yesNo(s.CanDownload))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// isHalted reports whether err means the server stopped the request.
func isHalted(err error) bool {
	var halted *farmdata.HaltedError
	return errors.As(err, &halted)
}

func init() {
	statusCmd.Flags().Bool("wait", false, "poll until the request reaches a terminal status")
	rootCmd.AddCommand(statusCmd)
}
