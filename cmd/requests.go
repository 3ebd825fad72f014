package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/farmdata-cli/internal/lifecycle"
	"github.com/sells-group/farmdata-cli/internal/model"
	"github.com/sells-group/farmdata-cli/internal/store"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Inspect submitted requests",
	Long:  "Commands for listing, viewing, refreshing and switching between submitted requests.",
}

// -- requests list --

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submitted requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		customer, _ := cmd.Flags().GetString("customer-id")
		limit, _ := cmd.Flags().GetInt("limit")

		subs, err := st.ListSubmissions(ctx, store.SubmissionFilter{
			Status:     status,
			CustomerID: customer,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "requests list")
		}

		if len(subs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No requests found.")
			return nil
		}

		formatRequestsList(cmd.OutOrStdout(), subs)
		return nil
	},
}

// -- requests show --

var requestsShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show full details of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sub, err := st.GetSubmission(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "requests show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sub)
	},
}

// -- requests refresh --

var requestsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-check the status of every pending request",
	Long: `Checks GET /get_status for every request that has not reached completed,
error or hold, refresh.concurrency at a time, and records the answers.
The current request of the session is not changed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		token := s.ctrl.Token()
		if token == "" {
			return eris.Wrap(lifecycle.ErrNotAuthenticated, "requests refresh")
		}

		limit, _ := cmd.Flags().GetInt("limit")
		pending, err := s.store.ListSubmissions(ctx, store.SubmissionFilter{Status: store.Pending, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "requests refresh")
		}
		if len(pending) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending requests.")
			return nil
		}

		results, err := s.refreshStatuses(cmd, token, pending)
		if err != nil {
			return err
		}
		formatRefreshResults(cmd.OutOrStdout(), results)
		return nil
	},
}

// refreshResult is the outcome of re-checking one stored request.
type refreshResult struct {
	RequestID string
	Status    *farmdata.StatusRecord
	Err       error
}

// refreshStatuses checks pending requests concurrently through the raw
// client. A rejected token aborts the whole refresh; any other failure is
// reported per request.
func (s *session) refreshStatuses(cmd *cobra.Command, token string, pending []model.Submission) ([]refreshResult, error) {
	ctx := cmd.Context()
	results := make([]refreshResult, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Refresh.Concurrency)
	for i, sub := range pending {
		g.Go(func() error {
			status, err := s.api.GetStatus(gctx, token, sub.RequestID)
			var apiErr *farmdata.APIError
			if errors.As(err, &apiErr) && apiErr.Unauthorized() {
				return &lifecycle.Error{Kind: lifecycle.KindStatus, Detail: lifecycle.Detail(err), Err: err}
			}
			results[i] = refreshResult{RequestID: sub.RequestID, Status: status, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.Err != nil {
			zap.L().Warn("requests refresh: status check failed",
				zap.String("request_id", r.RequestID),
				zap.Error(r.Err),
			)
			continue
		}
		s.recordStatus(ctx, r.RequestID, r.Status)
	}
	return results, nil
}

// -- requests use --

var requestsUseCmd = &cobra.Command{
	Use:   "use <request-id>",
	Short: "Make a request the current one",
	Long: `Switches the session to another request id so that status and result act on it.
What the history knows about the request is restored with it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		requestID := args[0]

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		next := model.Session{RequestID: requestID}
		sub, err := s.store.GetSubmission(ctx, requestID)
		switch {
		case err == nil:
			next = sessionFromSubmission(*sub)
		case errors.Is(err, store.ErrNotFound):
			zap.L().Debug("requests use: not in history", zap.String("request_id", requestID))
		default:
			return eris.Wrap(err, "requests use")
		}

		s.ctrl.RestoreSession(next)
		fmt.Fprintf(cmd.OutOrStdout(), "Current request: %s\n", requestID)
		return nil
	},
}

// sessionFromSubmission rebuilds the request-scoped session state from a
// history row. A row that was never checked carries no status.
func sessionFromSubmission(sub model.Submission) model.Session {
	sess := model.Session{RequestID: sub.RequestID, Result: sub.Result}
	if sub.Status != "" && sub.Status != model.StatusSubmitted {
		sess.Status = &farmdata.StatusRecord{
			Status:      sub.Status,
			Message:     sub.Message,
			CanDownload: sub.CanDownload,
		}
	}
	return sess
}

func init() {
	requestsListCmd.Flags().String("status", "", "filter by status (submitted, completed, error, hold, pending, ...)")
	requestsListCmd.Flags().String("customer-id", "", "filter by customer id")
	requestsListCmd.Flags().Int("limit", 50, "max number of requests to display")

	requestsRefreshCmd.Flags().Int("limit", 100, "max number of pending requests to check")

	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsShowCmd)
	requestsCmd.AddCommand(requestsRefreshCmd)
	requestsCmd.AddCommand(requestsUseCmd)
	rootCmd.AddCommand(requestsCmd)
}

// formatRequestsList writes a tabular list of submissions to w.
func formatRequestsList(out io.Writer, subs []model.Submission) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REQUEST\tCUSTOMER\tGLS\tSTATUS\tDOWNLOAD\tCREATED")
	_, _ = fmt.Fprintln(w, "-------\t--------\t---\t------\t--------\t-------")

	for _, s := range subs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.RequestID,
			truncate(s.CustomerID, 20),
			truncate(s.GLS, 20),
			statusLabel(s.Status),
			yesNo(s.CanDownload),
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatRefreshResults(out io.Writer, results []refreshResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REQUEST\tSTATUS\tMESSAGE")
	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.RequestID, "Failed", lifecycle.Detail(r.Err))
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.RequestID, statusLabel(r.Status.Status), r.Status.Message)
	}
	_ = w.Flush()
}

// truncate shortens s to n characters for compact display.
// truncate shortens s to n runes, ending in "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
