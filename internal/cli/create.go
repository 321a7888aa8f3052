package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	tunnelSubdomain    string
	tunnelTargetPort   int
	tunnelProtocol     string
	tunnelIsPersistent bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new tunnel",
	Long: `Create a new tunnel exposing a local port behind the gateway.

Examples:
  # Expose localhost:8080 on a generated subdomain
  tunnelgatectl create --target-port 8080

  # Expose on a specific subdomain, marked persistent
  tunnelgatectl create --subdomain myapp --target-port 3000 --persistent`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&tunnelSubdomain, "subdomain", "", "requested subdomain (random if omitted)")
	createCmd.Flags().IntVar(&tunnelTargetPort, "target-port", 0, "local port to expose (required)")
	createCmd.Flags().StringVar(&tunnelProtocol, "protocol", "http", "protocol: http or tcp")
	createCmd.Flags().BoolVar(&tunnelIsPersistent, "persistent", false, "mark the tunnel persistent (stored on the tunnel record only; nothing re-registers it after a disconnect)")
	createCmd.MarkFlagRequired("target-port")
}

func runCreate(cmd *cobra.Command, args []string) error {
	resp, err := authedRequest("POST", "/api/tunnels", map[string]any{
		"subdomain":     tunnelSubdomain,
		"target_port":   tunnelTargetPort,
		"protocol":      tunnelProtocol,
		"is_persistent": tunnelIsPersistent,
	})
	if err != nil {
		return fmt.Errorf("failed to create tunnel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		return fmt.Errorf("failed to create tunnel: %s", readErrorBody(resp))
	}

	var result struct {
		Subdomain string `json:"subdomain"`
		URL       string `json:"url"`
		BindAddr  string `json:"bind_addr"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Tunnel created\n")
	fmt.Printf("  Subdomain: %s\n", result.Subdomain)
	fmt.Printf("  URL:       %s\n", result.URL)
	return nil
}
