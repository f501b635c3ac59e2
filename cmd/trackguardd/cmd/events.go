package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danthegoodman1/trackguard/internal/classify"
	"github.com/danthegoodman1/trackguard/internal/store"
)

var (
	eventsToday bool
	eventsWeek  bool
	eventsSince time.Duration
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List blocked tracker events",
	Long: `List blocked tracker events, newest first.

Example:
  trackguardd events
  trackguardd events --today
  trackguardd events --since 2h --limit 20`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsToday, "today", false, "only events since midnight")
	eventsCmd.Flags().BoolVar(&eventsWeek, "week", false, "only events from the last seven days")
	eventsCmd.Flags().DurationVar(&eventsSince, "since", 0, "only events newer than this duration")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 0, "maximum number of events to print (0 = all)")
	eventsCmd.MarkFlagsMutuallyExclusive("today", "week", "since")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()
	var events []store.Event
	switch {
	case eventsToday:
		events, err = st.ListEventsBetween(store.StartOfDay(now), now.Add(time.Second))
	case eventsWeek:
		events, err = st.ListEventsBetween(store.StartOfDay(now).AddDate(0, 0, -7), now.Add(time.Second))
	case eventsSince > 0:
		events, err = st.ListEventsBetween(now.Add(-eventsSince), now.Add(time.Second))
	default:
		events, err = st.ListEvents()
	}
	if err != nil {
		return fmt.Errorf("listing events failed: %w", err)
	}

	total := len(events)
	if eventsLimit > 0 && len(events) > eventsLimit {
		events = events[:eventsLimit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tTARGET\tIP\tPROTOCOL")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Timestamp.Local().Format(time.DateTime),
			e.Target(),
			e.IPAddress,
			classify.ParseProtocol(e.PacketType).Display(),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d events\n", total)
	return nil
}
