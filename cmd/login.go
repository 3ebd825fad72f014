package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange username and password for an access token",
	Long:  "Authenticates against POST /token and stores the bearer token in the credentials file for later commands.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		username, password := loginCredentials(cmd)
		if username == "" || password == "" {
			return eris.New("login: username and password are required (--username/--password or FARMDATA_AUTH_USERNAME/FARMDATA_AUTH_PASSWORD)")
		}

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		if err := s.ctrl.Authenticate(ctx, username, password); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Authenticated as %s\n", username)
		return nil
	},
}

// loginCredentials prefers flags and falls back to the auth config.
func loginCredentials(cmd *cobra.Command) (string, string) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if username == "" {
		username = cfg.Auth.Username
	}
	if password == "" {
		password = cfg.Auth.Password
	}
	return username, password
}

func init() {
	loginCmd.Flags().String("username", "", "account username (default from auth.username)")
	loginCmd.Flags().String("password", "", "account password (default from auth.password)")
	rootCmd.AddCommand(loginCmd)
}
