package bus

import (
	"testing"
	"time"

	"github.com/rapidaai/hootenanny/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed before an event arrived")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(commons.NewNopLogger())
	defer b.Close()

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(EventBeatTick, BeatTickPayload{Beat: 1.0, Tick: 960})

	event := waitForEvent(t, sub.Events())
	assert.Equal(t, EventBeatTick, event.Kind)
	assert.Equal(t, SchemaVersion, event.SchemaVersion)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(commons.NewNopLogger())
	defer b.Close()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Publish(EventJobStateChanged, JobStateChangedPayload{JobID: "job-1", State: "complete"})

	e1 := waitForEvent(t, sub1.Events())
	e2 := waitForEvent(t, sub2.Events())
	assert.Equal(t, EventJobStateChanged, e1.Kind)
	assert.Equal(t, EventJobStateChanged, e2.Kind)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(commons.NewNopLogger())
	defer b.Close()

	sub := b.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestUnsubscribedSubscriberDoesNotBlockFanout(t *testing.T) {
	b := New(commons.NewNopLogger())
	defer b.Close()

	sub := b.Subscribe()
	sub.Unsubscribe()

	b.Publish(EventLog, LogPayload{Level: "info", Message: "hello"})

	sub2 := b.Subscribe()
	defer sub2.Unsubscribe()
	b.Publish(EventLog, LogPayload{Level: "info", Message: "world"})
	event := waitForEvent(t, sub2.Events())
	assert.Equal(t, EventLog, event.Kind)
}

func TestCloseEmitsShutdownAndClosesSubscribers(t *testing.T) {
	b := New(commons.NewNopLogger())
	sub := b.Subscribe()

	b.Close()

	var sawShutdown bool
	for event := range sub.Events() {
		if event.Kind == EventShutdown {
			sawShutdown = true
		}
	}
	assert.True(t, sawShutdown)
}

func TestBeatTickDoesNotInvalidateCache(t *testing.T) {
	event := Event{Kind: EventBeatTick}
	assert.False(t, event.InvalidatesCache())
}

func TestJobStateChangedInvalidatesCache(t *testing.T) {
	event := Event{Kind: EventJobStateChanged}
	assert.True(t, event.InvalidatesCache())
}

func TestLogAndProgressDoNotInvalidateCache(t *testing.T) {
	assert.False(t, Event{Kind: EventLog}.InvalidatesCache())
	assert.False(t, Event{Kind: EventProgress}.InvalidatesCache())
}
