package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danthegoodman1/trackguard/internal/config"
	"github.com/danthegoodman1/trackguard/internal/metrics"
	"github.com/danthegoodman1/trackguard/internal/store"
	"github.com/danthegoodman1/trackguard/internal/trackers"
)

// Server owns the tracker index, the event sink and the filter loop, and
// the order they are started and stopped in.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	index     *trackers.Index
	sink      *Sink
	refresher *trackers.Refresher
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	sessionID string
	hostname  string
	version   string

	mu     sync.Mutex
	loop   *Loop
	status Status
	fatal  error
}

type Status struct {
	Running   bool      `json:"running"`
	SessionID string    `json:"session_id"`
	Hostname  string    `json:"hostname"`
	Version   string    `json:"version"`
	Since     time.Time `json:"since"`
	Trackers  int       `json:"trackers"`
	LastError string    `json:"last_error,omitempty"`
}

type Option func(*Server)

func WithNotifier(n Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func NewServer(cfg *config.Config, st *store.Store, logger zerolog.Logger, version string, opts ...Option) (*Server, error) {
	hostname, _ := os.Hostname()

	s := &Server{
		cfg:       cfg,
		store:     st,
		logger:    logger.With().Str("component", "daemon").Logger(),
		sessionID: uuid.Must(uuid.NewV7()).String(),
		hostname:  hostname,
		version:   version,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(logger)
	}

	s.index = trackers.NewIndex(logger,
		trackers.WithDisabledCategories(cfg.Trackers.DisabledCategories),
		trackers.WithMetrics(s.metrics),
	)
	if err := s.index.LoadSeed(); err != nil {
		return nil, fmt.Errorf("loading seed trackers: %w", err)
	}

	s.sink = NewSink(st, s.notifier, SinkConfig{
		QueueSize:     cfg.Sink.QueueSize,
		Notifications: cfg.Sink.Notifications,
		Retention:     cfg.Events.Retention,
		PruneInterval: cfg.Events.PruneInterval,
		Metrics:       s.metrics,
	}, logger)

	if cfg.Trackers.AutoUpdate {
		s.refresher = trackers.NewRefresher(s.index, trackers.RefresherConfig{
			URL:      cfg.Trackers.ListURL,
			Interval: cfg.Trackers.RefreshInterval,
			Cache:    st,
			Metrics:  s.metrics,
		}, logger)
	}

	s.status = Status{SessionID: s.sessionID, Hostname: hostname, Version: version}
	return s, nil
}

func (s *Server) Index() *trackers.Index {
	return s.index
}

func (s *Server) Sink() *Sink {
	return s.sink
}

func (s *Server) SessionID() string {
	return s.sessionID
}

func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Trackers = s.index.Len()
	return st
}

// Stats summarizes the recorded events relative to now.
func (s *Server) Stats() (store.Stats, error) {
	return s.store.EventStats(time.Now())
}

// Run filters packets on ch until ctx is done, Stop is called or the channel
// fails. ifaceName, when set, is watched so that removing the interface
// stops protection. Queued events are persisted before Run returns.
func (s *Server) Run(ctx context.Context, ch io.ReadWriteCloser, ifaceName string) error {
	s.mu.Lock()
	if s.loop != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	loop := NewLoop(ch, s.index, s.sink, LoopConfig{
		BufferSize:  s.cfg.Loop.BufferSize,
		IdleBackoff: s.cfg.Loop.IdleBackoff,
		SessionID:   s.sessionID,
		Metrics:     s.metrics,
	}, s.logger)
	s.loop = loop
	s.mu.Unlock()

	if s.refresher != nil {
		if _, err := s.refresher.LoadCached(); err != nil {
			s.logger.Warn().Err(err).Msg("ignoring cached tracker list")
		}
	}
	if path := s.cfg.Trackers.LocalFile; path != "" {
		if _, err := s.index.LoadLocal(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to load local tracker file")
		}
	}

	s.sink.Start()
	defer func() {
		s.sink.Close()
		s.sink.Wait()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if ifaceName != "" {
		watcher := NewInterfaceWatcher(s.logger, func(name string) {
			s.setFatal(fmt.Errorf("%w: interface %s removed", ErrChannelFailed, name))
			loop.Stop()
		})
		if err := watcher.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to watch tunnel interface")
		} else {
			watcher.Watch(ifaceName)
			defer watcher.Stop()
		}
	}

	if s.refresher != nil {
		g.Go(func() error {
			s.refresher.Run(gctx)
			return nil
		})
	}

	if path := s.cfg.Trackers.LocalFile; path != "" {
		g.Go(func() error {
			if err := s.index.WatchFile(gctx, path); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("tracker file watcher stopped")
			}
			return nil
		})
	}

	if s.cfg.Metrics.Listen != "" && s.metrics != nil {
		g.Go(func() error {
			if err := s.metrics.Serve(gctx, s.cfg.Metrics.Listen, s.cfg.Metrics.Path, s.logger); err != nil {
				s.logger.Error().Err(err).Msg("metrics listener failed")
			}
			return nil
		})
	}

	s.setRunning(true, nil)
	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx)
	})

	err := g.Wait()
	if err == nil {
		err = s.takeFatal()
	}
	s.setRunning(false, err)
	return err
}

// Stop requests the filter loop to stop. It returns without waiting for
// queued events to be persisted.
func (s *Server) Stop() {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
}

func (s *Server) setRunning(running bool, err error) {
	s.mu.Lock()
	s.status.Running = running
	s.status.Since = time.Now()
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case running:
		s.logger.Info().Str("session_id", s.sessionID).Int("trackers", s.index.Len()).Msg("protection enabled")
		s.notifier.Notify("Protection enabled", fmt.Sprintf("Blocking %d known trackers", s.index.Len()), CategoryStatus)
	case err != nil:
		s.logger.Error().Err(err).Msg("protection stopped")
		s.notifier.Notify("Protection stopped", err.Error(), CategoryStatus)
	default:
		s.logger.Info().Msg("protection disabled")
		s.notifier.Notify("Protection disabled", "Tracker blocking is off", CategoryStatus)
	}
}

func (s *Server) setFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		s.fatal = err
	}
}

func (s *Server) takeFatal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.fatal
	s.fatal = nil
	return err
}
