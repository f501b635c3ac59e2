package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/trackguard/internal/metrics"
	"github.com/danthegoodman1/trackguard/internal/store"
)

func blockedEvent(domain, ip string, ts time.Time) store.Event {
	return store.Event{
		Timestamp:  ts,
		Domain:     domain,
		IPAddress:  ip,
		PacketType: "DNS",
		Blocked:    true,
	}
}

func TestSinkRecordsInOrder(t *testing.T) {
	sink := NewSink(newTestStore(t), nil, SinkConfig{QueueSize: 8}, testLogger())
	sink.Start()

	base := time.Now()
	for i, d := range []string{"a.example", "b.example", "c.example"} {
		require.NoError(t, sink.Record(blockedEvent(d, "1.1.1.1", base.Add(time.Duration(i)*time.Millisecond))))
	}
	sink.Close()
	sink.Wait()

	events, err := sink.AllEvents()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "c.example", events[0].Domain)
	assert.Equal(t, "b.example", events[1].Domain)
	assert.Equal(t, "a.example", events[2].Domain)
	assert.Less(t, events[2].ID, events[1].ID)

	n, err := sink.BlockedCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSinkNotifies(t *testing.T) {
	notifier := &RecordingNotifier{}
	sink := NewSink(newTestStore(t), notifier, SinkConfig{Notifications: true}, testLogger())
	sink.Start()

	require.NoError(t, sink.Record(blockedEvent("googletagmanager.com", "8.8.8.8", time.Now())))
	ipOnly := blockedEvent("", "203.0.113.7", time.Now())
	ipOnly.PacketType = "HTTP-443"
	require.NoError(t, sink.Record(ipOnly))
	sink.Close()
	sink.Wait()

	got := notifier.Notifications()
	require.Len(t, got, 2)
	assert.Equal(t, Notification{
		Title:    "Tracker blocked",
		Body:     "Blocked googletagmanager.com (DNS query)",
		Category: CategoryTracker,
	}, got[0])
	assert.Equal(t, "Blocked 203.0.113.7 (HTTPS connection)", got[1].Body)
}

func TestSinkNotificationsDisabled(t *testing.T) {
	notifier := &RecordingNotifier{}
	sink := NewSink(newTestStore(t), notifier, SinkConfig{Notifications: true}, testLogger())
	sink.SetNotifications(false)
	sink.Start()

	require.NoError(t, sink.Record(blockedEvent("facebook.com", "1.1.1.1", time.Now())))
	sink.Close()
	sink.Wait()

	assert.Empty(t, notifier.Notifications())
	n, err := sink.BlockedCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSinkPersistenceFailureDoesNotDropLaterEvents(t *testing.T) {
	base := newTestStore(t)
	flaky := &blockingStore{Store: base, failNext: 1}
	notifier := &RecordingNotifier{}
	m := metrics.New()

	sink := NewSink(flaky, notifier, SinkConfig{Notifications: true, Metrics: m}, testLogger())
	sink.Start()

	require.NoError(t, sink.Record(blockedEvent("lost.example", "1.1.1.1", time.Now())))
	require.NoError(t, sink.Record(blockedEvent("kept.example", "1.1.1.1", time.Now())))
	sink.Close()
	sink.Wait()

	events, err := base.ListEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "kept.example", events[0].Domain)

	// Only durably recorded events are announced.
	require.Len(t, notifier.Notifications(), 1)
}

func TestSinkOverflowDropsNewest(t *testing.T) {
	sink := NewSink(newTestStore(t), nil, SinkConfig{QueueSize: 2}, testLogger())

	require.NoError(t, sink.Record(blockedEvent("one.example", "1.1.1.1", time.Now())))
	require.NoError(t, sink.Record(blockedEvent("two.example", "1.1.1.1", time.Now())))
	require.ErrorIs(t, sink.Record(blockedEvent("three.example", "1.1.1.1", time.Now())), ErrQueueFull)

	sink.Start()
	sink.Close()
	sink.Wait()

	events, err := sink.AllEvents()
	require.NoError(t, err)
	require.Len(t, events, 2)
	domains := []string{events[0].Domain, events[1].Domain}
	assert.ElementsMatch(t, []string{"one.example", "two.example"}, domains)
}

func TestSinkRecordAfterClose(t *testing.T) {
	sink := NewSink(newTestStore(t), nil, SinkConfig{}, testLogger())
	sink.Start()
	sink.Close()
	sink.Close()
	sink.Wait()

	require.ErrorIs(t, sink.Record(blockedEvent("late.example", "1.1.1.1", time.Now())), ErrSinkClosed)
}

func TestSinkClearAll(t *testing.T) {
	sink := NewSink(newTestStore(t), nil, SinkConfig{}, testLogger())
	sink.Start()
	require.NoError(t, sink.Record(blockedEvent("a.example", "1.1.1.1", time.Now())))
	require.True(t, waitForCondition(time.Second, func() bool {
		n, err := sink.BlockedCount()
		return err == nil && n == 1
	}))

	require.NoError(t, sink.ClearAll())

	n, err := sink.BlockedCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	sink.Close()
	sink.Wait()
}

func TestSinkEventsBetween(t *testing.T) {
	sink := NewSink(newTestStore(t), nil, SinkConfig{}, testLogger())
	sink.Start()

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Record(blockedEvent("before.example", "1.1.1.1", day.Add(-time.Hour))))
	require.NoError(t, sink.Record(blockedEvent("during.example", "1.1.1.1", day.Add(time.Hour))))
	require.NoError(t, sink.Record(blockedEvent("after.example", "1.1.1.1", day.Add(25*time.Hour))))
	sink.Close()
	sink.Wait()

	events, err := sink.EventsBetween(day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "during.example", events[0].Domain)
}

func TestSinkPrunesExpiredEvents(t *testing.T) {
	st := newTestStore(t)
	_, err := st.InsertEvent(&store.Event{Timestamp: time.Now().Add(-48 * time.Hour), IPAddress: "1.1.1.1", PacketType: "DNS", Blocked: true})
	require.NoError(t, err)
	_, err = st.InsertEvent(&store.Event{Timestamp: time.Now(), IPAddress: "2.2.2.2", PacketType: "DNS", Blocked: true})
	require.NoError(t, err)

	sink := NewSink(st, nil, SinkConfig{Retention: 24 * time.Hour, PruneInterval: time.Hour}, testLogger())
	sink.Start()
	defer func() {
		sink.Close()
		sink.Wait()
	}()

	require.True(t, waitForCondition(time.Second, func() bool {
		n, err := st.CountBlocked()
		return err == nil && n == 1
	}))

	events, err := st.ListEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2.2.2.2", events[0].IPAddress)
}
