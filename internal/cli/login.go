package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the gateway and save a token",
	Long:  `Exchange an email and password for a Bearer token, saved to ~/.tunnelgatectl/token for subsequent commands.`,
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email (required)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (required)")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")
}

func runLogin(cmd *cobra.Command, args []string) error {
	resp, err := authedRequest("POST", "/api/auth/login", map[string]string{
		"email":    loginEmail,
		"password": loginPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("login failed: %s", readErrorBody(resp))
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if err := saveToken(result.Token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Println("Logged in successfully")
	return nil
}
