package trackers

import (
	"errors"
	"fmt"
)

// ErrMalformedList is returned when a tracker list payload cannot be parsed
// at all. Individual bad entries are skipped instead.
var ErrMalformedList = errors.New("malformed tracker list")

// Severity ranks how invasive a tracker is.
type Severity int

const (
	SeverityLow    Severity = 1
	SeverityMedium Severity = 2
	SeverityHigh   Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Valid reports whether s is within the 1-3 range.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityHigh
}

// Tracker is a known tracking or advertising service.
type Tracker struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Category    string   `yaml:"category" json:"category"`
	Domains     []string `yaml:"domains" json:"domains"`
	IPs         []string `yaml:"ips" json:"ips,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Severity    Severity `yaml:"severity" json:"severity"`
}

// normalize fills defaults the same way for seed, remote and file sources.
func (t Tracker) normalize() Tracker {
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.Category == "" {
		t.Category = "Unknown"
	}
	if !t.Severity.Valid() {
		t.Severity = SeverityLow
	}
	return t
}
