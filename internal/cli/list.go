package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your active tunnels",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	resp, err := authedRequest("GET", "/api/tunnels", nil)
	if err != nil {
		return fmt.Errorf("failed to list tunnels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("failed to list tunnels: %s", readErrorBody(resp))
	}

	var result struct {
		Tunnels []struct {
			Subdomain  string    `json:"subdomain"`
			TargetPort int       `json:"target_port"`
			Protocol   string    `json:"protocol"`
			IsActive   bool      `json:"is_active"`
			CreatedAt  time.Time `json:"created_at"`
		} `json:"tunnels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Tunnels) == 0 {
		fmt.Println("No active tunnels")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SUBDOMAIN\tTARGET PORT\tPROTOCOL\tACTIVE\tCREATED")
	for _, t := range result.Tunnels {
		fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\n",
			t.Subdomain, t.TargetPort, t.Protocol, t.IsActive, t.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d tunnel(s)\n", len(result.Tunnels))
	return nil
}
