package stream

import (
	"context"
	"errors"
	"testing"

	"poolwatch/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversInSubscriptionOrder(t *testing.T) {
	hub := NewHub()
	var got []string

	hub.Subscribe(events.StreamQueues, func(m Message) { got = append(got, "first:"+string(m.Data)) })
	hub.Subscribe(events.StreamQueues, func(m Message) { got = append(got, "second:"+string(m.Data)) })
	hub.Subscribe(events.StreamPools, func(m Message) { got = append(got, "pools") })

	assert.Equal(t, 2, hub.Publish(events.StreamQueues, []byte("x")))
	assert.Equal(t, []string{"first:x", "second:x"}, got)
	assert.Zero(t, hub.Publish(events.StreamDataSets, []byte("y")))
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	calls := 0
	sub := hub.Subscribe(events.StreamDataSets, func(Message) { calls++ })
	require.NotEmpty(t, sub.ID())
	assert.Equal(t, events.StreamDataSets, sub.Stream())

	// revoking before any message arrived
	sub.Cancel()
	sub.Cancel()
	hub.Unsubscribe(events.StreamDataSets, sub)

	hub.Publish(events.StreamDataSets, []byte("x"))
	assert.Zero(t, calls)
	assert.False(t, hub.HasSubscribers(events.StreamDataSets))

	var nilSub *Subscription
	nilSub.Cancel()
	hub.Unsubscribe(events.StreamDataSets, nil)
}

func TestHub_UnsubscribeIgnoresMismatchedStream(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(events.StreamDataSets, func(Message) {})

	hub.Unsubscribe(events.StreamPools, sub)
	assert.True(t, hub.HasSubscribers(events.StreamDataSets))

	hub.Unsubscribe(events.StreamDataSets, sub)
	assert.False(t, hub.HasSubscribers(events.StreamDataSets))
}

func TestHub_HandlerMayCancelDuringDelivery(t *testing.T) {
	hub := NewHub()
	calls := 0
	var sub *Subscription
	sub = hub.Subscribe(events.StreamApplications, func(Message) {
		calls++
		sub.Cancel()
	})

	hub.Publish(events.StreamApplications, []byte("x"))
	hub.Publish(events.StreamApplications, []byte("y"))
	assert.Equal(t, 1, calls)
}

func TestHub_PublishError(t *testing.T) {
	hub := NewHub()
	var got Message
	hub.Subscribe(events.StreamPools, func(m Message) { got = m })

	boom := errors.New("boom")
	assert.Equal(t, 1, hub.PublishError(events.StreamPools, boom))
	assert.True(t, got.IsError())
	assert.ErrorIs(t, got.Err, boom)
	assert.False(t, got.ReceivedAt.IsZero())
}

func TestHubPublisher(t *testing.T) {
	hub := NewHub()
	var got []byte
	hub.Subscribe(events.StreamDataSets, func(m Message) { got = m.Data })

	require.NoError(t, HubPublisher{Hub: hub}.Publish(context.Background(), events.StreamDataSets, []byte("payload")))
	assert.Equal(t, []byte("payload"), got)
}
