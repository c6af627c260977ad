package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfolink/internal/notify"
)

func startHub(t *testing.T, bufferSize int) *notify.Hub {
	t.Helper()
	hub := notify.NewHub(bufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func recvEvent(t *testing.T, sub *notify.Subscription) notify.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return notify.Event{}
	}
}

func requireClosed(t *testing.T, sub *notify.Subscription) {
	t.Helper()
	select {
	case _, ok := <-sub.Events():
		require.False(t, ok, "expected the channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the channel to close")
	}
}

// sync publishes a sentinel on a side topic and waits for it, guaranteeing
// the hub's single loop has processed everything published before it.
func syncHub(t *testing.T, hub *notify.Hub) {
	t.Helper()
	sentinel := hub.Subscribe(notify.Topic("sentinel"))
	require.NotNil(t, sentinel)
	defer sentinel.Close()
	hub.Publish(notify.NewEvent(notify.Topic("sentinel"), "sync", nil))
	recvEvent(t, sentinel)
}

func TestHubFanOut(t *testing.T) {
	hub := startHub(t, 8)
	topic := notify.ConversationTopic("conv-1")

	first := hub.Subscribe(topic)
	second := hub.Subscribe(topic)
	other := hub.Subscribe(notify.ConversationTopic("conv-2"))
	require.NotNil(t, first)
	require.NotNil(t, second)
	require.NotNil(t, other)

	hub.Publish(notify.NewEvent(topic, notify.EventMessageCreated, map[string]string{"body": "hi"}))

	for _, sub := range []*notify.Subscription{first, second} {
		evt := recvEvent(t, sub)
		assert.Equal(t, notify.EventMessageCreated, evt.Type)
		assert.Equal(t, topic, evt.Topic)
		assert.NotEmpty(t, evt.ID)
	}

	syncHub(t, hub)
	select {
	case evt := <-other.Events():
		t.Fatalf("subscriber on another topic received %q", evt.Type)
	default:
	}
}

func TestHubDropsOldestWhenSaturated(t *testing.T) {
	hub := startHub(t, 2)
	topic := notify.UserTopic("cfo1")

	sub := hub.Subscribe(topic)
	require.NotNil(t, sub)

	for _, name := range []string{"one", "two", "three"} {
		hub.Publish(notify.NewEvent(topic, name, nil))
	}
	syncHub(t, hub)

	// Queue depth is 2, so "one" was dropped to make room for "three".
	assert.Equal(t, "two", recvEvent(t, sub).Type)
	assert.Equal(t, "three", recvEvent(t, sub).Type)
}

func TestHubUnsubscribe(t *testing.T) {
	hub := startHub(t, 8)
	topic := notify.ConversationTopic("conv-1")

	leaving := hub.Subscribe(topic)
	staying := hub.Subscribe(topic)
	require.NotNil(t, leaving)
	require.NotNil(t, staying)

	leaving.Close()
	requireClosed(t, leaving)
	leaving.Close() // second close is a no-op

	hub.Publish(notify.NewEvent(topic, notify.EventConversationUpdated, nil))
	evt := recvEvent(t, staying)
	assert.Equal(t, notify.EventConversationUpdated, evt.Type)
}

func TestHubHasSubscribers(t *testing.T) {
	hub := startHub(t, 8)
	topic := notify.UserTopic("co1")

	assert.False(t, hub.HasSubscribers(topic))

	sub := hub.Subscribe(topic)
	require.NotNil(t, sub)
	require.Eventually(t, func() bool { return hub.HasSubscribers(topic) },
		time.Second, 5*time.Millisecond)

	sub.Close()
	require.Eventually(t, func() bool { return !hub.HasSubscribers(topic) },
		time.Second, 5*time.Millisecond)
}

func TestHubShutdown(t *testing.T) {
	hub := notify.NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	sub := hub.Subscribe(notify.UserTopic("cfo1"))
	require.NotNil(t, sub)

	cancel()
	requireClosed(t, sub)

	// Late callers see a stopped hub instead of blocking.
	require.Eventually(t, func() bool {
		return hub.Subscribe(notify.UserTopic("cfo1")) == nil
	}, time.Second, 5*time.Millisecond)
	hub.Publish(notify.NewEvent(notify.UserTopic("cfo1"), "late", nil))
}
