package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show blocked tracker counts",
	Long: `Show how many tracker connections were blocked in total, today and in
the last week.

Example:
  trackguardd stats`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.EventStats(time.Now())
	if err != nil {
		return fmt.Errorf("get stats failed: %w", err)
	}
	blocked, err := st.CountBlocked()
	if err != nil {
		return fmt.Errorf("get stats failed: %w", err)
	}

	fmt.Printf("Trackguard Statistics\n")
	fmt.Printf("  Database:    %s\n", cfg.DBPath())
	fmt.Printf("  Blocked:     %d\n", blocked)
	fmt.Printf("  Total:       %d\n", stats.Total)
	fmt.Printf("  Today:       %d\n", stats.Today)
	fmt.Printf("  This week:   %d\n", stats.ThisWeek)
	if cfg.Events.Retention > 0 {
		fmt.Printf("  Retention:   %s\n", cfg.Events.Retention)
	}

	return nil
}
