package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(TopicNowPlaying)
	b, unsubB := bus.Subscribe(TopicNowPlaying)
	defer unsubA()
	defer unsubB()

	bus.Publish(TopicNowPlaying, "song")
	bus.Publish(TopicChatMessage, "ignored")

	assert.Equal(t, "song", <-a)
	assert.Equal(t, "song", <-b)
	assert.Empty(t, a)
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicChatMessage)
	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	bus.Publish(TopicChatMessage, "after")
}

func TestSlowSubscriberDrops(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicChatMessage)
	defer unsub()

	for i := 0; i < defaultBufferSize+10; i++ {
		bus.Publish(TopicChatMessage, i)
	}
	assert.Len(t, ch, defaultBufferSize)
	assert.EqualValues(t, 10, bus.dropCounts[TopicChatMessage])
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicNotification)
	bus.Close()
	unsub()

	_, open := <-ch
	assert.False(t, open)

	late, _ := bus.Subscribe(TopicNotification)
	_, open = <-late
	require.False(t, open)
	bus.Publish(TopicNotification, "noop")
}
