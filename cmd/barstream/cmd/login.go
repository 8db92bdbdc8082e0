package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantrail/barstream/internal/authz"
	"github.com/quantrail/barstream/internal/config"
)

var (
	loginClientID     string
	loginClientSecret string
	loginRedirectURI  string
	loginCode         string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange an OAuth authorization code for an access token",
	Long: `Exchanges the one-time authorization code from the Upstox login redirect
for an access token. Export the printed token as BARSTREAM_ACCESS_TOKEN
before running serve.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginClientID, "client-id", "", "API client id")
	loginCmd.Flags().StringVar(&loginClientSecret, "client-secret", "", "API client secret")
	loginCmd.Flags().StringVar(&loginRedirectURI, "redirect-uri", "", "redirect URI registered with the API app")
	loginCmd.Flags().StringVar(&loginCode, "code", "", "authorization code from the login redirect")
	loginCmd.MarkFlagRequired("client-id")
	loginCmd.MarkFlagRequired("client-secret")
	loginCmd.MarkFlagRequired("redirect-uri")
	loginCmd.MarkFlagRequired("code")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	client := authz.NewClient(authz.ClientOpts{BaseURL: config.Default().Feed.BaseURL})
	token, err := client.ExchangeCode(cmd.Context(), loginCode, loginClientID, loginClientSecret, loginRedirectURI)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "export BARSTREAM_ACCESS_TOKEN=%s\n", token)
	return nil
}
