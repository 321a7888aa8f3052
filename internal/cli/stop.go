package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [subdomain]",
	Short: "Stop and remove a tunnel",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	subdomain := args[0]

	resp, err := authedRequest("DELETE", "/api/tunnels/"+subdomain, nil)
	if err != nil {
		return fmt.Errorf("failed to stop tunnel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return fmt.Errorf("tunnel not found: %s", subdomain)
	}
	if resp.StatusCode != 204 {
		return fmt.Errorf("failed to stop tunnel: %s", readErrorBody(resp))
	}

	fmt.Printf("Tunnel stopped: %s\n", subdomain)
	return nil
}
