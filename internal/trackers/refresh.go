package trackers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/trackguard/internal/metrics"
)

// maxListSize bounds a downloaded tracker list.
const maxListSize = 32 << 20

// ListCache persists the last good remote list so it can be merged on the
// next start without network access.
type ListCache interface {
	SaveTrackerList(source string, payload []byte, fetchedAt time.Time) error
	LatestTrackerList(source string) ([]byte, time.Time, error)
}

// ErrNoCachedList is returned by a ListCache that has nothing stored.
var ErrNoCachedList = errors.New("no cached tracker list")

type Refresher struct {
	index    *Index
	url      string
	interval time.Duration
	client   *http.Client
	cache    ListCache
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

type RefresherConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Cache    ListCache
	Metrics  *metrics.Metrics
}

func NewRefresher(index *Index, cfg RefresherConfig, logger zerolog.Logger) *Refresher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Refresher{
		index:    index,
		url:      cfg.URL,
		interval: cfg.Interval,
		client:   &http.Client{Timeout: timeout},
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}
}

// LoadCached merges the most recently cached list for this source, if any.
func (r *Refresher) LoadCached() (int, error) {
	if r.cache == nil {
		return 0, nil
	}
	payload, fetchedAt, err := r.cache.LatestTrackerList(r.url)
	if errors.Is(err, ErrNoCachedList) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading cached tracker list: %w", err)
	}

	n, err := r.index.MergeRemote(payload)
	if err != nil {
		return 0, fmt.Errorf("merging cached tracker list: %w", err)
	}
	r.logger.Info().Int("merged", n).Time("fetched_at", fetchedAt).Msg("loaded cached tracker list")
	return n, nil
}

// Refresh downloads the remote list and merges it into the index. The index
// is left untouched when the download or parse fails.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	n, err := r.refresh(ctx)
	r.metrics.Refresh(err)
	return n, err
}

func (r *Refresher) refresh(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching tracker list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetching tracker list: unexpected status %s", resp.Status)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxListSize))
	if err != nil {
		return 0, fmt.Errorf("reading tracker list: %w", err)
	}

	n, err := r.index.MergeRemote(payload)
	if err != nil {
		return 0, err
	}

	if r.cache != nil {
		if err := r.cache.SaveTrackerList(r.url, payload, time.Now()); err != nil {
			r.logger.Warn().Err(err).Msg("failed to cache tracker list")
		}
	}

	r.logger.Info().Int("merged", n).Int("trackers", r.index.Len()).Msg("tracker list refreshed")
	return n, nil
}

// Run refreshes immediately and then on every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) {
	if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("tracker list refresh failed")
	}
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("tracker list refresh failed")
			}
		}
	}
}
