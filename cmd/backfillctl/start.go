package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	startWorkspaceID   string
	startLookbackDays  int
	startChunkSizeDays int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a backfill task for a workspace",
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			TaskID string `json:"task_id"`
		}
		err := newAPIClient().do("POST", "/api/v1/backfill/start", nil, map[string]interface{}{
			"workspace_id":    startWorkspaceID,
			"lookback_days":   startLookbackDays,
			"chunk_size_days": startChunkSizeDays,
		}, &resp)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("task started:", resp.TaskID)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&startWorkspaceID, "workspace", "", "workspace id (required)")
	startCmd.Flags().IntVar(&startLookbackDays, "lookback-days", 30, "number of days back to re-process")
	startCmd.Flags().IntVar(&startChunkSizeDays, "chunk-size-days", 1, "days per processing chunk")
	startCmd.MarkFlagRequired("workspace")
}
