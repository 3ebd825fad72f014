package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/farmdata-cli/internal/export"
	"github.com/sells-group/farmdata-cli/internal/lifecycle"
)

var resultCmd = &cobra.Command{
	Use:   "result",
	Short: "Download the result of the current request",
	Long: `Fetches GET /get_response/{request_id} and saves the payload as JSON, CSV or XLSX.
A payload that carries an "error" member is reported instead of saved.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, path, err := outputTarget(cmd)
		if err != nil {
			return err
		}

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

		saved, err := s.saveResult(ctx, requestID, path, format)
		if err != nil {
			printResultMessage(cmd.OutOrStdout(), err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved response to %s\n", saved)
		return nil
	},
}

// saveResult fetches the current request's payload, exports it and mirrors
// the outcome into the history ledger. An empty path means the default
// filename under output.dir.
func (s *session) saveResult(ctx context.Context, requestID, path, format string) (string, error) {
	payload, err := s.ctrl.FetchResult(ctx)
	if err != nil {
		if lifecycle.IsKind(err, lifecycle.KindResultContent) {
			s.recordResult(ctx, requestID, nil, resultError(err))
		}
		return "", err
	}

	if path == "" {
		path = filepath.Join(cfg.Output.Dir, export.DefaultFilename(requestID, format))
	}
	if err := export.WriteFile(path, payload, format); err != nil {
		return "", err
	}

	s.recordResult(ctx, requestID, payload, "")
	return path, nil
}

func (s *session) recordResult(ctx context.Context, requestID string, payload json.RawMessage, resultErr string) {
	if err := s.store.SaveResult(ctx, requestID, payload, resultErr); err != nil {
		zap.L().Debug("history: save result", zap.String("request_id", requestID), zap.Error(err))
	}
}

// resultError is the history text for a payload error: the error member,
// followed by the server message when one was sent.
func resultError(err error) string {
	detail := lifecycle.Detail(err)
	if msg := lifecycle.MessageOf(err); msg != "" {
		return detail + " - " + msg
	}
	return detail
}

func printResultMessage(w io.Writer, err error) {
	if msg := lifecycle.MessageOf(err); msg != "" {
		fmt.Fprintf(w, "Message: %s\n", msg)
	}
}

// outputTarget resolves --format and --out against the output config.
func outputTarget(cmd *cobra.Command) (string, string, error) {
	raw, _ := cmd.Flags().GetString("format")
	path, _ := cmd.Flags().GetString("out")
	if raw == "" {
		raw = cfg.Output.Format
	}
	format, err := export.ParseFormat(raw)
	if err != nil {
		return "", "", err
	}
	return format, path, nil
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("out", "", "output file (default response_<request-id>.<format> in output.dir)")
	cmd.Flags().String("format", "", "output format: json, csv or xlsx (default from output.format)")
}

func init() {
	addOutputFlags(resultCmd)
	rootCmd.AddCommand(resultCmd)
}
