package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage graph snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <graph-uuid>",
	Short: "Ask the server to snapshot a graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.Graphs.Snapshot(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot %s created at %s\n",
			snap.SnapshotUUID, snap.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <graph-uuid>",
	Short: "List a graph's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snaps, err := apiClient.Graphs.SnapshotList(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, s := range snaps {
			fmt.Printf("%-38s %s\n", s.SnapshotUUID, s.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
}
