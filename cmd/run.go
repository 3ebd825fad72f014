package main

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Log in, submit criteria, wait for the result and save it",
	Long: `Runs the whole request workflow in one go:

  1. authenticate, unless a token is already stored
  2. upload the criteria
  3. poll the status until the request completes, halts or the budget runs out
  4. download the result and save it to response_<request-id>.<format>`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		customerID, gls := submissionTarget(cmd)
		criteria, err := criteriaFromFlags(cmd)
		if err != nil {
			return err
		}
		format, path, err := outputTarget(cmd)
		if err != nil {
			return err
		}

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		if s.ctrl.Token() == "" {
			username, password := loginCredentials(cmd)
			if username == "" || password == "" {
				return eris.New("run: not logged in and no credentials given (--username/--password or auth.*)")
			}
			fmt.Fprintln(out, "Authenticating...")
			if err := s.ctrl.Authenticate(ctx, username, password); err != nil {
				return err
			}
			fmt.Fprintln(out, "Authentication successful!")
		}

		fmt.Fprintln(out, "Uploading criteria...")
		requestID, err := s.submit(ctx, customerID, gls, criteria)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Upload successful! Request ID: %s\n", requestID)

		fmt.Fprintln(out, "Checking status...")
		opts := append(s.pollOptions(), farmdata.WithOnStatus(func(_ int, st farmdata.StatusRecord) {
			fmt.Fprintf(out, "Current status: %s - %s\n", statusLabel(st.Status), st.Message)
		}))
		status, err := s.ctrl.WaitForStatus(ctx, opts...)
		s.recordStatus(ctx, requestID, status)
		switch {
		case isHalted(err):
			fmt.Fprintln(out, "Request cannot be processed. Please contact support.")
			return err
		case errors.Is(err, farmdata.ErrPollExhausted):
			last := "unknown"
			if status != nil {
				last = status.Status
			}
			fmt.Fprintf(out, "Request did not complete within the expected time. Current status: %s\n", last)
			return err
		case err != nil:
			return err
		}

		fmt.Fprintln(out, "Retrieving response data...")
		saved, err := s.saveResult(ctx, requestID, path, format)
		if err != nil {
			printResultMessage(out, err)
			return err
		}
		fmt.Fprintf(out, "Complete response saved to %s\n", saved)
		return nil
	},
}

func init() {
	addSubmissionFlags(runCmd)
	addOutputFlags(runCmd)
	runCmd.Flags().String("username", "", "account username, used when no token is stored")
	runCmd.Flags().String("password", "", "account password, used when no token is stored")
	rootCmd.AddCommand(runCmd)
}
