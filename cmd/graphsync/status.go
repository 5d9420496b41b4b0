package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [repo-id]",
	Short: "Show session state and recent sync log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state := apiClient.Sync.DebugState()

		bold := color.New(color.Bold)
		bold.Println("Session")
		fmt.Printf("  loop:        %s\n", state.LoopState)
		fmt.Printf("  connection:  %s\n", state.ConnectionState)
		if state.RepoID != "" {
			fmt.Printf("  repo:        %s\n", state.RepoID)
			fmt.Printf("  graph:       %s\n", state.GraphUUID)
			fmt.Printf("  unpushed:    %d\n", state.UnpushedCount)
			fmt.Printf("  auto-push:   %v\n", state.AutoPush)
		}

		repoID := state.RepoID
		if len(args) == 1 {
			repoID = args[0]
		}
		if repoID == "" {
			return nil
		}

		entries, err := apiClient.Replica.RecentLog(repoID, 10)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			bold.Println("Recent log")
			for _, e := range entries {
				fmt.Printf("  %s [%s] %s\n", e.Stamp, e.Level, e.Message)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
