package trackers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (c *memCache) SaveTrackerList(source string, payload []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]byte)
	}
	c.entries[source] = payload
	return nil
}

func (c *memCache) LatestTrackerList(source string) ([]byte, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[source]
	if !ok {
		return nil, time.Time{}, ErrNoCachedList
	}
	return payload, time.Now(), nil
}

const remoteList = `{"trackers": {"remote_ads": {"name": "Remote Ads", "category": "Advertising", "domains": ["remote-ads.example"], "severity": 3}}}`

func TestRefreshMergesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(remoteList))
	}))
	defer srv.Close()

	idx := newTestIndex(t)
	cache := &memCache{}
	r := NewRefresher(idx, RefresherConfig{URL: srv.URL, Cache: cache}, zerolog.New(io.Discard))

	n, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 6, idx.Len())
	assert.True(t, idx.IsTracker(netip.Addr{}, "remote-ads.example"))

	payload, _, err := cache.LatestTrackerList(srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, remoteList, string(payload))
}

func TestRefreshFailureKeepsIndex(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"trackers":`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			idx := newTestIndex(t)
			before := idx.View()
			cache := &memCache{}
			r := NewRefresher(idx, RefresherConfig{URL: srv.URL, Cache: cache}, zerolog.New(io.Discard))

			_, err := r.Refresh(context.Background())
			require.Error(t, err)
			assert.Same(t, before, idx.View())

			_, _, err = cache.LatestTrackerList(srv.URL)
			assert.ErrorIs(t, err, ErrNoCachedList)
		})
	}
}

func TestLoadCached(t *testing.T) {
	idx := newTestIndex(t)
	cache := &memCache{}
	require.NoError(t, cache.SaveTrackerList("https://lists.example/trackers.json", []byte(remoteList), time.Now()))

	r := NewRefresher(idx, RefresherConfig{URL: "https://lists.example/trackers.json", Cache: cache}, zerolog.New(io.Discard))
	n, err := r.LoadCached()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, idx.IsTracker(netip.Addr{}, "remote-ads.example"))

	empty := NewRefresher(idx, RefresherConfig{URL: "https://other.example", Cache: cache}, zerolog.New(io.Discard))
	n, err = empty.LoadCached()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunRefreshesOnInterval(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(remoteList))
	}))
	defer srv.Close()

	idx := newTestIndex(t)
	r := NewRefresher(idx, RefresherConfig{URL: srv.URL, Interval: 20 * time.Millisecond}, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
