package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danthegoodman1/trackguard/internal/config"
	"github.com/danthegoodman1/trackguard/internal/store"
)

var (
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "trackguardd",
	Short: "Trackguard daemon - blocks tracker traffic on a TUN interface",
	Long: `Trackguard routes traffic through a TUN interface, drops packets addressed
to known trackers and records every blocked attempt.

Run 'trackguardd start' to start protection, then use other commands to
inspect the event log and the tracker list.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
}

// openStore opens the daemon's event database for offline commands.
func openStore() (*config.Config, *store.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DataDir == "" {
		return nil, nil, fmt.Errorf("data_dir is not set: events are only kept in the running daemon's memory")
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening event store: %w", err)
	}
	return cfg, st, nil
}
