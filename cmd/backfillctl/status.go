package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var statusTaskID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress for one backfill task",
	Run: func(cmd *cobra.Command, args []string) {
		var progress map[string]interface{}
		q := url.Values{"task_id": {statusTaskID}}
		if err := newAPIClient().do("GET", "/api/v1/backfill/status", q, nil, &progress); err != nil {
			fmt.Println("error:", err)
			return
		}
		printJSON(progress)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusTaskID, "task", "", "task id (required)")
	statusCmd.MarkFlagRequired("task")
}
