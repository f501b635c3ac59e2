package trackers

import (
	"maps"
	"net/netip"
	"slices"
	"sort"
	"strings"
)

// View is an immutable snapshot of the index. Callers must not modify the
// returned trackers.
type View struct {
	byID     map[string]*Tracker
	byDomain map[string]*Tracker
	byIP     map[netip.Addr]*Tracker
	ordered  []*Tracker
	domains  []string // sorted keys of byDomain
}

// IsTracker reports whether ip or domain belongs to an enabled tracker.
func (v *View) IsTracker(ip netip.Addr, domain string) bool {
	_, ok := v.Match(ip, domain)
	return ok
}

// Match returns the tracker that ip or domain matched. The domain is checked
// first: an exact key, then a scan for any indexed domain that contains the
// query or is contained by it. The scan is deliberately permissive so that
// subdomains and truncated names still match. IPs only match exactly.
func (v *View) Match(ip netip.Addr, domain string) (*Tracker, bool) {
	if t, ok := v.matchDomain(domain); ok {
		return t, true
	}
	if ip.IsValid() {
		if t, ok := v.byIP[ip.Unmap()]; ok {
			return t, true
		}
	}
	return nil, false
}

func (v *View) matchDomain(domain string) (*Tracker, bool) {
	if domain == "" {
		return nil, false
	}
	if t, ok := v.byDomain[domain]; ok {
		return t, true
	}
	for _, d := range v.domains {
		if strings.Contains(domain, d) || strings.Contains(d, domain) {
			return v.byDomain[d], true
		}
	}
	return nil, false
}

// LookupByDomain returns the tracker indexed under exactly domain.
func (v *View) LookupByDomain(domain string) (*Tracker, bool) {
	t, ok := v.byDomain[domain]
	return t, ok
}

func (v *View) LookupByID(id string) (*Tracker, bool) {
	t, ok := v.byID[id]
	return t, ok
}

// All returns every tracker sorted by ID, including disabled categories.
func (v *View) All() []Tracker {
	out := make([]Tracker, 0, len(v.byID))
	for _, t := range v.byID {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByCategory returns the trackers whose category matches, ignoring case.
func (v *View) ByCategory(category string) []Tracker {
	var out []Tracker
	for _, t := range v.All() {
		if strings.EqualFold(t.Category, category) {
			out = append(out, t)
		}
	}
	return out
}

func (v *View) Len() int {
	return len(v.byID)
}

// Domains returns the number of domain keys that can match.
func (v *View) Domains() int {
	return len(v.domains)
}

// clone returns a copy of v whose maps and slices can be modified without
// affecting v.
func (v *View) clone() *View {
	return &View{
		byID:     maps.Clone(v.byID),
		byDomain: maps.Clone(v.byDomain),
		byIP:     maps.Clone(v.byIP),
		ordered:  slices.Clone(v.ordered),
	}
}

func (v *View) sortDomains() {
	v.domains = slices.Sorted(maps.Keys(v.byDomain))
}
