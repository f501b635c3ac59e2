package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	clearOlderThan time.Duration
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete recorded events",
	Long: `Delete recorded tracker events. Without flags every event is removed.

Example:
  trackguardd clear
  trackguardd clear --older-than 720h`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().DurationVar(&clearOlderThan, "older-than", 0, "only delete events older than this duration")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if clearOlderThan > 0 {
		removed, err := st.DeleteEventsBefore(time.Now().Add(-clearOlderThan))
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		fmt.Printf("Deleted %d events older than %s\n", removed, clearOlderThan)
		return nil
	}

	count, err := st.CountBlocked()
	if err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	if err := st.DeleteAllEvents(); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	fmt.Printf("Deleted %d events\n", count)
	return nil
}
