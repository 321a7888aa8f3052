package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var analyticsDays int

var analyticsCmd = &cobra.Command{
	Use:   "analytics [tunnel-id]",
	Short: "Show daily request analytics for a tunnel",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalytics,
}

func init() {
	analyticsCmd.Flags().IntVar(&analyticsDays, "days", 7, "number of days to report (max 90)")
}

func runAnalytics(cmd *cobra.Command, args []string) error {
	tunnelID := args[0]

	resp, err := authedRequest("GET", fmt.Sprintf("/api/tunnels/%s/analytics?days=%d", tunnelID, analyticsDays), nil)
	if err != nil {
		return fmt.Errorf("failed to fetch analytics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("failed to fetch analytics: %s", readErrorBody(resp))
	}

	var result struct {
		Analytics []struct {
			Date          string  `json:"date"`
			TotalRequests int64   `json:"total_requests"`
			ErrorCount    int64   `json:"error_count"`
			AvgLatencyMs  float64 `json:"avg_latency_ms"`
		} `json:"analytics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Analytics) == 0 {
		fmt.Println("No analytics recorded for this tunnel yet")
		return nil
	}

	for _, day := range result.Analytics {
		fmt.Printf("%s  requests=%d errors=%d avg_latency=%.1fms\n",
			day.Date, day.TotalRequests, day.ErrorCount, day.AvgLatencyMs)
	}
	return nil
}
