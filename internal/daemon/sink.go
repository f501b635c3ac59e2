package daemon

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/trackguard/internal/classify"
	"github.com/danthegoodman1/trackguard/internal/metrics"
	"github.com/danthegoodman1/trackguard/internal/store"
)

var (
	ErrSinkClosed = errors.New("event sink closed")
	ErrQueueFull  = errors.New("event queue full")
)

// EventStore is the persistence the sink writes blocked events to.
type EventStore interface {
	InsertEvent(e *store.Event) (int64, error)
	ListEvents() ([]store.Event, error)
	ListEventsBetween(from, to time.Time) ([]store.Event, error)
	CountBlocked() (int, error)
	DeleteAllEvents() error
	DeleteEventsBefore(t time.Time) (int64, error)
}

type SinkConfig struct {
	QueueSize     int
	Notifications bool
	// Retention of zero keeps events forever.
	Retention     time.Duration
	PruneInterval time.Duration
	Metrics       *metrics.Metrics
}

// Sink persists blocked events on its own goroutine. Record never blocks:
// when the queue is full the new event is dropped and counted.
type Sink struct {
	store         EventStore
	notifier      Notifier
	notify        atomic.Bool
	retention     time.Duration
	pruneInterval time.Duration
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	// mu guards closed so Record never sends on a closed queue.
	mu     sync.RWMutex
	closed bool
	queue  chan store.Event

	// writeMu serializes every write to the store.
	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []func(store.Event)

	overflow     atomic.Int64
	lastOverflow atomic.Int64

	startOnce sync.Once
	stopPrune chan struct{}
	wg        sync.WaitGroup
}

func NewSink(st EventStore, notifier Notifier, cfg SinkConfig, logger zerolog.Logger) *Sink {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	s := &Sink{
		store:         st,
		notifier:      notifier,
		retention:     cfg.Retention,
		pruneInterval: cfg.PruneInterval,
		metrics:       cfg.Metrics,
		logger:        logger.With().Str("component", "sink").Logger(),
		queue:         make(chan store.Event, size),
		stopPrune:     make(chan struct{}),
	}
	s.notify.Store(cfg.Notifications)
	return s
}

// Start launches the consumer and, when retention is set, the pruner.
func (s *Sink) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.consume()

		if s.retention > 0 && s.pruneInterval > 0 {
			s.wg.Add(1)
			go s.pruneLoop()
		}
	})
}

// Record enqueues e for persistence without waiting.
func (s *Sink) Record(e store.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.queue <- e:
		s.metrics.SetQueueLength(len(s.queue))
		return nil
	default:
		s.dropped(e)
		return ErrQueueFull
	}
}

func (s *Sink) dropped(e store.Event) {
	s.metrics.SinkOverflow()
	s.overflow.Add(1)

	now := time.Now().UnixNano()
	last := s.lastOverflow.Load()
	if now-last < int64(time.Second) || !s.lastOverflow.CompareAndSwap(last, now) {
		return
	}
	s.logger.Warn().
		Int64("dropped", s.overflow.Swap(0)).
		Str("target", e.Target()).
		Msg("event queue full, dropping new events")
}

// OnRecorded registers fn to run after each event is durably recorded.
func (s *Sink) OnRecorded(fn func(store.Event)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Sink) SetNotifications(enabled bool) {
	s.notify.Store(enabled)
}

func (s *Sink) consume() {
	defer s.wg.Done()
	for e := range s.queue {
		s.metrics.SetQueueLength(len(s.queue))
		s.persist(e)
	}
}

func (s *Sink) persist(e store.Event) {
	s.writeMu.Lock()
	_, err := s.store.InsertEvent(&e)
	s.writeMu.Unlock()

	if err != nil {
		s.metrics.SinkError()
		s.logger.Error().Err(err).Str("target", e.Target()).Msg("failed to record event")
		return
	}
	s.metrics.Recorded()

	if s.notify.Load() {
		label := classify.ParseProtocol(e.PacketType).Display()
		s.notifier.Notify("Tracker blocked", fmt.Sprintf("Blocked %s (%s)", e.Target(), label), CategoryTracker)
	}

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(e)
	}
}

func (s *Sink) pruneLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	s.pruneExpired()
	for {
		select {
		case <-s.stopPrune:
			return
		case <-ticker.C:
			s.pruneExpired()
		}
	}
}

func (s *Sink) pruneExpired() {
	removed, err := s.PruneBefore(time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune events")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("pruned expired events")
	}
}

// AllEvents returns every recorded event, newest first.
func (s *Sink) AllEvents() ([]store.Event, error) {
	return s.store.ListEvents()
}

// EventsBetween returns events with from <= timestamp < to, newest first.
func (s *Sink) EventsBetween(from, to time.Time) ([]store.Event, error) {
	return s.store.ListEventsBetween(from, to)
}

func (s *Sink) BlockedCount() (int, error) {
	return s.store.CountBlocked()
}

func (s *Sink) ClearAll() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.DeleteAllEvents()
}

func (s *Sink) PruneBefore(t time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.DeleteEventsBefore(t)
}

// Close stops accepting events. Events already queued are still persisted;
// Wait blocks until they are.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
	close(s.stopPrune)
}

func (s *Sink) Wait() {
	s.wg.Wait()
}
