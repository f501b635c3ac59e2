package cmd

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danthegoodman1/trackguard/internal/config"
	"github.com/danthegoodman1/trackguard/internal/store"
	"github.com/danthegoodman1/trackguard/internal/trackers"
)

var (
	trackersCategory string
)

var trackersCmd = &cobra.Command{
	Use:   "trackers",
	Short: "List known trackers",
	Long: `List the trackers the daemon would block: the bundled set, the last
downloaded tracker list and the local tracker file.

Example:
  trackguardd trackers
  trackguardd trackers --category analytics`,
	RunE: runTrackers,
}

var checkCmd = &cobra.Command{
	Use:   "check <domain|ip>",
	Short: "Check whether a destination would be blocked",
	Long: `Check whether a domain or IP address matches a known tracker.

Example:
  trackguardd trackers check ads.doubleclick.net
  trackguardd trackers check 203.0.113.7`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	trackersCmd.Flags().StringVar(&trackersCategory, "category", "", "only list trackers in this category")
	trackersCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(trackersCmd)
}

// loadIndex builds the index the daemon would start with.
func loadIndex() (*trackers.Index, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	idx := trackers.NewIndex(logger, trackers.WithDisabledCategories(cfg.Trackers.DisabledCategories))
	if err := idx.LoadSeed(); err != nil {
		return nil, err
	}

	if cfg.DataDir != "" && cfg.Trackers.ListURL != "" {
		if err := mergeCached(idx, cfg, logger); err != nil {
			return nil, err
		}
	}
	if cfg.Trackers.LocalFile != "" {
		if _, err := idx.LoadLocal(cfg.Trackers.LocalFile); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func mergeCached(idx *trackers.Index, cfg *config.Config, logger zerolog.Logger) error {
	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	defer st.Close()

	r := trackers.NewRefresher(idx, trackers.RefresherConfig{URL: cfg.Trackers.ListURL, Cache: st}, logger)
	_, err = r.LoadCached()
	return err
}

func runTrackers(cmd *cobra.Command, args []string) error {
	idx, err := loadIndex()
	if err != nil {
		return err
	}

	list := idx.All()
	if trackersCategory != "" {
		list = idx.ByCategory(trackersCategory)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSEVERITY\tDOMAINS")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Name,
			t.Category,
			t.Severity,
			formatDomains(t.Domains),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d trackers\n", len(list))
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ip, domain, err := parseDestination(args[0])
	if err != nil {
		return err
	}

	idx, err := loadIndex()
	if err != nil {
		return err
	}

	t, ok := idx.View().Match(ip, domain)
	if !ok {
		fmt.Printf("%s: allowed\n", args[0])
		return nil
	}
	fmt.Printf("%s: blocked by %s (%s, %s severity)\n", args[0], t.Name, t.Category, t.Severity)
	return nil
}

// parseDestination accepts an IP address or a domain name, with or without
// the trailing root dot.
func parseDestination(s string) (netip.Addr, string, error) {
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr, "", nil
	}
	if _, ok := dns.IsDomainName(s); !ok {
		return netip.Addr{}, "", fmt.Errorf("%q is neither an IP address nor a domain name", s)
	}
	return netip.Addr{}, strings.TrimSuffix(dns.Fqdn(s), "."), nil
}

func formatDomains(domains []string) string {
	const shown = 3
	if len(domains) <= shown {
		return strings.Join(domains, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(domains[:shown], ", "), len(domains)-shown)
}
