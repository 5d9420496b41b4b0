package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	syncsvc "github.com/TheMichaelB/graphsync/internal/services/sync"
)

var (
	syncDateFormat string
	syncNoAuto     bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <repo-id>",
	Short: "Run the sync loop for a local graph replica",
	Long: `Sync connects to the server, subscribes to the graph's remote updates,
and runs until interrupted. Remote updates are applied to the local
replica as they arrive; pending local operations are pushed once per
polling interval while auto-push is enabled.`,
	Example: `  graphsync sync my-notes
  graphsync sync my-notes --no-auto-push`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVar(&syncDateFormat, "date-format", "",
		"Timestamp layout for session log entries")
	syncCmd.Flags().BoolVar(&syncNoAuto, "no-auto-push", false,
		"Start with auto-push disabled")
}

func runSync(cmd *cobra.Command, args []string) error {
	repoID := args[0]
	ctx := context.Background()

	if syncNoAuto {
		cfg.Sync.AutoPush = false
	}

	if err := apiClient.Sync.Start(ctx, syncsvc.StartParams{
		RepoID:     repoID,
		DateFormat: syncDateFormat,
	}); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("Syncing %s (Ctrl-C to stop)\n", repoID)

	// Surface connection transitions while the loop runs.
	go func() {
		for state := range apiClient.ConnStates() {
			yellow.Printf("connection: %s\n", state)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// SIGUSR1 flips auto-push without stopping the session (Unix only).
	toggleCh := make(chan os.Signal, 1)
	notifyToggle(toggleCh)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping...")
			apiClient.Sync.Stop()
			return nil
		case <-toggleCh:
			if enabled, ok := apiClient.Sync.ToggleAutoPush(); ok {
				yellow.Printf("auto-push: %v\n", enabled)
			}
		case <-ticker.C:
			state := apiClient.Sync.DebugState()
			if state.LoopState == "failed" || state.LoopState == "stopped" {
				apiClient.Sync.Stop()
				return fmt.Errorf("sync loop ended: %s", state.LoopState)
			}
		}
	}
}
