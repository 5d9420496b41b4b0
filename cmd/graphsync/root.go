package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/graphsync/internal/client"
	"github.com/TheMichaelB/graphsync/internal/config"
	"github.com/TheMichaelB/graphsync/internal/events"
)

var (
	cfgPath  string
	logLevel string

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "graphsync",
	Short: "Real-time collaborative graph synchronization client",
	Long: `graphsync keeps a local replica of a document graph consistent with a
remote server replica over a persistent connection: remote updates are
applied as they arrive, and local changes are pushed automatically.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		cfg, err = config.NewLoader(cfgPath).Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}

		logger, err = events.NewLogger(&cfg.Log)
		if err != nil {
			return err
		}

		apiClient, err = client.New(cfg, logger)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if apiClient != nil {
			return apiClient.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "",
		"Config file path (default: graphsync.json, ~/.config/graphsync/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
}
