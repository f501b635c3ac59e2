package trackers

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// Seed returns the bundled tracker set.
func Seed() ([]Tracker, error) {
	var list []Tracker
	if err := yaml.Unmarshal(seedYAML, &list); err != nil {
		return nil, fmt.Errorf("parsing seed trackers: %w", err)
	}

	seen := make(map[string]struct{}, len(list))
	for i, t := range list {
		if t.ID == "" {
			return nil, fmt.Errorf("seed tracker %d has no id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("duplicate seed tracker id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		list[i] = t.normalize()
	}
	return list, nil
}

// ParseList parses a bulk tracker list shaped as
//
//	{"trackers": {"<id>": {"name": ..., "category": ..., "domains": [...], "description": ..., "severity": n}}}
//
// Entries that are not objects are skipped and counted. Missing fields take
// defaults: name falls back to the id, category to "Unknown", severity to 1.
// The result is sorted by id.
func ParseList(payload []byte) ([]Tracker, int, error) {
	var doc struct {
		Trackers map[string]json.RawMessage `json:"trackers"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedList, err)
	}
	if doc.Trackers == nil {
		return nil, 0, fmt.Errorf("%w: no trackers object", ErrMalformedList)
	}

	ids := make([]string, 0, len(doc.Trackers))
	for id := range doc.Trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	list := make([]Tracker, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		t, ok := parseEntry(id, doc.Trackers[id])
		if !ok {
			skipped++
			continue
		}
		list = append(list, t)
	}
	return list, skipped, nil
}

func parseEntry(id string, raw json.RawMessage) (Tracker, bool) {
	if id == "" {
		return Tracker{}, false
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Tracker{}, false
	}

	t := Tracker{ID: id}
	t.Name, _ = fields["name"].(string)
	t.Category, _ = fields["category"].(string)
	t.Description, _ = fields["description"].(string)
	t.Domains = stringList(fields["domains"])
	t.IPs = stringList(fields["ips"])

	if sev, ok := fields["severity"].(float64); ok && sev == math.Trunc(sev) {
		t.Severity = Severity(sev)
	}
	return t.normalize(), true
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadFile reads a local tracker list in the same format as the remote list.
func LoadFile(path string) ([]Tracker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tracker file: %w", err)
	}
	list, _, err := ParseList(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return list, nil
}
