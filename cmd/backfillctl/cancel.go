package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var cancelTaskID string

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running or pending backfill task",
	Run: func(cmd *cobra.Command, args []string) {
		q := url.Values{"task_id": {cancelTaskID}}
		if err := newAPIClient().do("POST", "/api/v1/backfill/cancel", q, nil, nil); err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("task cancelled:", cancelTaskID)
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	cancelCmd.Flags().StringVar(&cancelTaskID, "task", "", "task id (required)")
	cancelCmd.MarkFlagRequired("task")
}
