package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var listWorkspaceID string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every backfill task for a workspace",
	Run: func(cmd *cobra.Command, args []string) {
		var tasks []map[string]interface{}
		q := url.Values{"workspace_id": {listWorkspaceID}}
		if err := newAPIClient().do("GET", "/api/v1/backfill/list", q, nil, &tasks); err != nil {
			fmt.Println("error:", err)
			return
		}
		printJSON(tasks)
	},
}

var summaryWorkspaceID string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show whether a workspace's history needs a backfill",
	Run: func(cmd *cobra.Command, args []string) {
		var summary map[string]interface{}
		q := url.Values{"workspace_id": {summaryWorkspaceID}}
		if err := newAPIClient().do("GET", "/api/v1/backfill/summary", q, nil, &summary); err != nil {
			fmt.Println("error:", err)
			return
		}
		printJSON(summary)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listWorkspaceID, "workspace", "", "workspace id (required)")
	listCmd.MarkFlagRequired("workspace")

	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().StringVar(&summaryWorkspaceID, "workspace", "", "workspace id (required)")
	summaryCmd.MarkFlagRequired("workspace")
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
