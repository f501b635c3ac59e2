package daemon

import (
	"sync"

	"github.com/rs/zerolog"
)

const (
	CategoryTracker = "tracker"
	CategoryStatus  = "status"
)

// Notifier delivers user-facing notifications. Implementations must not
// block for long; the sink calls Notify from its consumer goroutine.
type Notifier interface {
	Notify(title, body, category string)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(title, body, category string) {
	n.logger.Info().Str("category", category).Str("title", title).Msg(body)
}

// Notification is one delivered notification.
type Notification struct {
	Title    string
	Body     string
	Category string
}

// RecordingNotifier keeps every notification in memory, for status queries
// and tests.
type RecordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *RecordingNotifier) Notify(title, body, category string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notification{Title: title, Body: body, Category: category})
}

func (n *RecordingNotifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.items...)
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(title, body, category string) {
	for _, n := range m {
		n.Notify(title, body, category)
	}
}
