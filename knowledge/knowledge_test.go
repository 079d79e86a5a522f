package knowledge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/core"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time                        { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time { ch := make(chan time.Time, 1); ch <- c.now.Add(d); return ch }
func (c *fakeClock) Sleep(d time.Duration)                  { c.now = c.now.Add(d) }

type recordingBus struct {
	mu    sync.Mutex
	topic []string
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload core.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topic = append(b.topic, topic)
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topic)
}

func newTestStore(bus EventPublisher) *Store {
	return New(Config{Clock: &fakeClock{now: time.Now()}, Bus: bus})
}

func TestStoreEntryDedupesByContentHashAcrossCategories(t *testing.T) {
	s := newTestStore(&recordingBus{})
	ctx := context.Background()

	id1, err := s.StoreEntry(ctx, "  The Sky Is Blue  ", "weather", "agent-a", nil, core.Null())
	require.NoError(t, err)

	id2, err := s.StoreEntry(ctx, "the sky is blue", "astronomy", "agent-b", nil, core.Null())
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "dedupe is by content hash alone, not category")

	entry, err := s.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.UsageCount)
}

func TestUpdateEntryCreatesNewVersionLinkedToParent(t *testing.T) {
	s := newTestStore(&recordingBus{})
	ctx := context.Background()

	id, err := s.StoreEntry(ctx, "v1 content", "notes", "agent-a", nil, core.Null())
	require.NoError(t, err)

	newID, err := s.UpdateEntry(ctx, id, "v2 content", nil, core.Null())
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	updated, err := s.Get(newID)
	require.NoError(t, err)
	assert.Equal(t, id, updated.ParentEntryID)
	assert.Equal(t, 2, updated.Version)

	original, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "v1 content", original.Content, "original row is never mutated")
}

func TestUpdateEntryUnknownParentFails(t *testing.T) {
	s := newTestStore(&recordingBus{})
	_, err := s.UpdateEntry(context.Background(), "missing", "x", nil, core.Null())
	assert.True(t, core.IsNotFound(err))
}

func TestSubscriptionMatchesTagsAndFilters(t *testing.T) {
	entry := &Entry{Tags: []string{"urgent", "ops"}, Metadata: core.Map(map[string]core.Value{"region": core.String("us")})}

	sub := &Subscription{Active: true, Tags: []string{"urgent"}, Filters: map[string]string{"region": "us"}}
	assert.True(t, sub.matches(entry))

	wrongRegion := &Subscription{Active: true, Filters: map[string]string{"region": "eu"}}
	assert.False(t, wrongRegion.matches(entry))

	missingTag := &Subscription{Active: true, Tags: []string{"nonexistent"}}
	assert.False(t, missingTag.matches(entry))

	inactive := &Subscription{Active: false}
	assert.False(t, inactive.matches(entry))
}

func TestNotifySubscribersOnlyDeliversToActiveMatchingSubscribers(t *testing.T) {
	bus := &recordingBus{}
	s := newTestStore(bus)
	ctx := context.Background()

	s.Subscribe("agent-active", []string{"ops"}, []string{"urgent"}, nil)
	inactiveID := s.Subscribe("agent-inactive", []string{"ops"}, nil, nil)
	require.NoError(t, s.Unsubscribe(inactiveID))
	s.Subscribe("agent-wrong-tag", []string{"ops"}, []string{"never-present"}, nil)

	_, err := s.StoreEntry(ctx, "server is down", "ops", "agent-a", []string{"urgent"}, core.Null())
	require.NoError(t, err)

	assert.Equal(t, 1, bus.count(), "only the active, tag-matching subscriber should receive a delivery")
}

func TestBroadcastExcludesGivenAgents(t *testing.T) {
	bus := &recordingBus{}
	s := newTestStore(bus)
	ctx := context.Background()

	s.Subscribe("agent-1", []string{"ops"}, nil, nil)
	s.Subscribe("agent-2", []string{"ops"}, nil, nil)

	id, err := s.StoreEntry(ctx, "broadcast me", "ops", "agent-a", nil, core.Null())
	require.NoError(t, err)
	bus.topic = nil // reset after the store-time notify

	err = s.Broadcast(ctx, id, []string{"ops"}, map[string]bool{"agent-1": true})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.count())
}

func TestRequestFlowPublishesOnePerTarget(t *testing.T) {
	bus := &recordingBus{}
	s := newTestStore(bus)
	ctx := context.Background()

	_, err := s.StoreEntry(ctx, "deployment checklist", "ops", "agent-a", nil, core.Null())
	require.NoError(t, err)
	bus.topic = nil

	results := s.RequestFlow(ctx, "agent-a", []string{"agent-b", "agent-c"}, "ops")
	assert.Len(t, results, 1)
	assert.Equal(t, 2, bus.count())
}

func TestFlowMetricsTrackSubscriptionsSharesAndRequests(t *testing.T) {
	bus := &recordingBus{}
	s := newTestStore(bus)
	ctx := context.Background()

	s.Subscribe("agent-active", []string{"ops"}, nil, nil)
	inactiveID := s.Subscribe("agent-inactive", []string{"ops"}, nil, nil)
	assert.Equal(t, 2, s.GetFlowMetrics().SubscriptionsActive)

	require.NoError(t, s.Unsubscribe(inactiveID))
	assert.Equal(t, 1, s.GetFlowMetrics().SubscriptionsActive)

	// unsubscribing an already-inactive subscription must not double-decrement.
	require.NoError(t, s.Unsubscribe(inactiveID))
	assert.Equal(t, 1, s.GetFlowMetrics().SubscriptionsActive)

	_, err := s.StoreEntry(ctx, "server is down", "ops", "agent-a", nil, core.Null())
	require.NoError(t, err)
	assert.Equal(t, 1, s.GetFlowMetrics().KnowledgeShared)

	s.RequestFlow(ctx, "agent-a", []string{"agent-b"}, "ops")
	assert.Equal(t, 1, s.GetFlowMetrics().RequestsFulfilled)
}
