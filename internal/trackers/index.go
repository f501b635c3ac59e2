// Package trackers holds the in-memory tracker index used to decide whether
// a destination belongs to a tracking service.
//
// The index is published as an immutable View behind an atomic pointer.
// Readers load the current View without locking; writers build a complete
// replacement and swap it in, so a lookup never observes a partially merged
// list.
package trackers

import (
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/trackguard/internal/metrics"
)

type Index struct {
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	disabled map[string]struct{}

	// mu serializes writers; readers only touch current.
	mu      sync.Mutex
	current atomic.Pointer[View]
}

type Option func(*Index)

// WithDisabledCategories excludes trackers of the given categories from
// matching. They are still listed by All and ByCategory.
func WithDisabledCategories(categories []string) Option {
	return func(idx *Index) {
		for _, c := range categories {
			idx.disabled[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Index) {
		idx.metrics = m
	}
}

func NewIndex(logger zerolog.Logger, opts ...Option) *Index {
	idx := &Index{
		logger:   logger.With().Str("component", "trackers").Logger(),
		disabled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.current.Store(idx.build(nil))
	return idx
}

// View returns the currently published snapshot.
func (idx *Index) View() *View {
	return idx.current.Load()
}

// LoadSeed replaces the whole index with the bundled tracker set. Loading it
// any number of times yields the same mappings.
func (idx *Index) LoadSeed() error {
	seed, err := Seed()
	if err != nil {
		return err
	}
	idx.Replace(seed)
	return nil
}

// Replace atomically swaps in an index built only from list.
func (idx *Index) Replace(list []Tracker) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.publish(idx.build(list))
	idx.logger.Info().Int("trackers", len(list)).Msg("tracker index replaced")
}

// Merge inserts or overwrites the given trackers by ID on top of the current
// index and returns how many were applied. Merging only adds match keys: a
// domain or IP already indexed keeps matching even when the tracker that
// introduced it is overwritten, unless an incoming tracker claims it. The
// most recently written tracker wins for a shared domain or IP.
func (idx *Index) Merge(list []Tracker) int {
	if len(list) == 0 {
		return 0
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	next := idx.current.Load().clone()
	idx.add(next, list)
	next.sortDomains()

	idx.publish(next)
	idx.logger.Debug().Int("merged", len(list)).Int("trackers", next.Len()).Msg("tracker index merged")
	return len(list)
}

// MergeRemote parses a bulk tracker list and merges its valid entries.
func (idx *Index) MergeRemote(payload []byte) (int, error) {
	list, skipped, err := ParseList(payload)
	if err != nil {
		return 0, err
	}
	if skipped > 0 {
		idx.logger.Warn().Int("skipped", skipped).Msg("skipped malformed tracker entries")
	}
	return idx.Merge(list), nil
}

func (idx *Index) IsTracker(ip netip.Addr, domain string) bool {
	return idx.View().IsTracker(ip, domain)
}

func (idx *Index) LookupByDomain(domain string) (*Tracker, bool) {
	return idx.View().LookupByDomain(domain)
}

func (idx *Index) All() []Tracker {
	return idx.View().All()
}

func (idx *Index) ByCategory(category string) []Tracker {
	return idx.View().ByCategory(category)
}

func (idx *Index) Len() int {
	return idx.View().Len()
}

func (idx *Index) publish(v *View) {
	idx.current.Store(v)
	idx.metrics.SetTrackers(v.Len())
}

// build creates a View from list in order; later entries overwrite earlier
// ones with the same ID, domain or IP.
func (idx *Index) build(list []Tracker) *View {
	v := &View{
		byID:     make(map[string]*Tracker, len(list)),
		byDomain: make(map[string]*Tracker),
		byIP:     make(map[netip.Addr]*Tracker),
	}
	idx.add(v, list)
	v.sortDomains()
	return v
}

// add overlays list onto v, which must not be published yet. Only the last
// entry for an ID is used.
func (idx *Index) add(v *View, list []Tracker) {
	last := make(map[string]int, len(list))
	for i, t := range list {
		last[t.ID] = i
	}

	for i := range list {
		if list[i].ID == "" || last[list[i].ID] != i {
			continue
		}
		t := list[i].normalize()
		tp := &t
		if old, ok := v.byID[t.ID]; ok {
			v.ordered = slices.DeleteFunc(v.ordered, func(o *Tracker) bool { return o == old })
		}
		v.byID[t.ID] = tp
		v.ordered = append(v.ordered, tp)

		if _, off := idx.disabled[strings.ToLower(t.Category)]; off {
			continue
		}
		for _, d := range t.Domains {
			if d == "" {
				continue
			}
			v.byDomain[d] = tp
		}
		for _, raw := range t.IPs {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				idx.logger.Warn().Str("tracker", t.ID).Str("ip", raw).Msg("ignoring invalid tracker IP")
				continue
			}
			v.byIP[addr.Unmap()] = tp
		}
	}
}
