package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/farmdata-cli/internal/model"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Upload farm criteria and start a new request",
	Long: `Uploads a criteria file (JSON or YAML) for a customer and GLS code.
The previous request id, status and result are discarded before the upload.
Use --sample to send the built-in sample criteria instead of a file.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		customerID, gls := submissionTarget(cmd)
		criteria, err := criteriaFromFlags(cmd)
		if err != nil {
			return err
		}

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		requestID, err := s.submit(ctx, customerID, gls, criteria)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Request ID: %s\n", requestID)
		return nil
	},
}

// submit dispatches criteria through the controller and records the
// accepted request in the history ledger.
func (s *session) submit(ctx context.Context, customerID, gls string, criteria farmdata.Criteria) (string, error) {
	requestID, err := s.ctrl.SubmitCriteria(ctx, customerID, gls, criteria)
	if err != nil {
		return "", err
	}

	if _, err := s.store.RecordSubmission(ctx, model.Submission{
		RequestID:  requestID,
		CustomerID: customerID,
		GLS:        gls,
		Criteria:   criteria,
	}); err != nil {
		zap.L().Warn("history: record submission", zap.String("request_id", requestID), zap.Error(err))
	}
	return requestID, nil
}

// submissionTarget prefers flags and falls back to the request config.
func submissionTarget(cmd *cobra.Command) (string, string) {
	customerID, _ := cmd.Flags().GetString("customer-id")
	gls, _ := cmd.Flags().GetString("gls")
	if customerID == "" {
		customerID = cfg.Request.CustomerID
	}
	if gls == "" {
		gls = cfg.Request.GLS
	}
	return customerID, gls
}

func criteriaFromFlags(cmd *cobra.Command) (farmdata.Criteria, error) {
	sample, _ := cmd.Flags().GetBool("sample")
	path, _ := cmd.Flags().GetString("criteria")
	if path == "" {
		path = cfg.Request.CriteriaFile
	}

	switch {
	case path != "":
		return loadCriteriaFile(path)
	case sample:
		return farmdata.DefaultCriteria(), nil
	default:
		return farmdata.Criteria{}, eris.New("submit: a criteria file is required (--criteria FILE or --sample)")
	}
}

func loadCriteriaFile(path string) (farmdata.Criteria, error) {
	f, err := os.Open(path)
	if err != nil {
		return farmdata.Criteria{}, eris.Wrapf(err, "open criteria %s", path)
	}
	defer f.Close() //nolint:errcheck

	c, err := farmdata.LoadCriteria(f, farmdata.FormatFromPath(path))
	if err != nil {
		return farmdata.Criteria{}, eris.Wrapf(err, "criteria %s", path)
	}
	return c, nil
}

func addSubmissionFlags(cmd *cobra.Command) {
	cmd.Flags().String("customer-id", "", "customer id (default from request.customer_id)")
	cmd.Flags().String("gls", "", "GLS code (default from request.gls)")
	cmd.Flags().String("criteria", "", "criteria file, .json or .yaml (default from request.criteria_file)")
	cmd.Flags().Bool("sample", false, "submit the built-in sample criteria")
}

func init() {
	addSubmissionFlags(submitCmd)
	rootCmd.AddCommand(submitCmd)
}
