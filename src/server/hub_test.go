package server

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"vote-spin/src/logger"
	"vote-spin/src/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(buffer int) (*Hub, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	log := logger.NewLoggerWithWriter(io.Discard, "ERROR", "Hub")
	return NewHub(log, clock, 25*time.Second, buffer), clock
}

func snapshotAt(version int64, values ...int) models.MSnapshot {
	snap := models.MSnapshot{Version: version}
	for i, v := range values {
		snap.Entries = append(snap.Entries, models.MSnapshotEntry{EntityID: "player" + string(rune('1'+i)), Value: v})
	}
	return snap
}

func receive(t *testing.T, s *Subscriber) models.MLiveMessage {
	t.Helper()
	select {
	case msg, ok := <-s.Messages():
		require.True(t, ok, "subscriber channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return models.MLiveMessage{}
	}
}

func TestHub_BroadcastReachesEverySubscriberInOrder(t *testing.T) {
	hub, _ := newTestHub(8)
	a, b := hub.NewSubscriber("sse"), hub.NewSubscriber("ws")
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))
	assert.Equal(t, 2, hub.Count())

	for v := int64(1); v <= 3; v++ {
		hub.Broadcast(snapshotAt(v, 1, 0))
	}

	for _, s := range []*Subscriber{a, b} {
		for v := int64(1); v <= 3; v++ {
			msg := receive(t, s)
			assert.Equal(t, v, msg.Version)
			assert.Equal(t, models.EventSnapshotUpdate, msg.Event)
		}
	}
}

func TestHub_BroadcastPayloadIsWireProjection(t *testing.T) {
	hub, _ := newTestHub(1)
	s := hub.NewSubscriber("sse")
	hub.Register(s)

	hub.Broadcast(snapshotAt(7, 1, 0))
	msg := receive(t, s)

	var values []models.MSnapshotValue
	require.NoError(t, json.Unmarshal(msg.Data, &values))
	assert.Equal(t, []models.MSnapshotValue{{EntityID: "player1", Value: 1}, {EntityID: "player2", Value: 0}}, values)
}

func TestHub_BroadcastWithNoSubscribers(t *testing.T) {
	hub, _ := newTestHub(1)
	assert.NotPanics(t, func() { hub.Broadcast(snapshotAt(1, 1)) })
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	hub, _ := newTestHub(1)
	slow, fast := hub.NewSubscriber("sse"), hub.NewSubscriber("sse")
	hub.Register(slow)
	hub.Register(fast)

	hub.Broadcast(snapshotAt(1, 1))
	receive(t, fast)
	hub.Broadcast(snapshotAt(2, 0))

	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, int64(2), receive(t, fast).Version)

	// The slow one still has its first message, then sees the close.
	assert.Equal(t, int64(1), receive(t, slow).Version)
	_, ok := <-slow.Messages()
	assert.False(t, ok)
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub, _ := newTestHub(1)
	s := hub.NewSubscriber("ws")
	hub.Register(s)

	hub.Unregister(s)
	assert.NotPanics(t, func() { hub.Unregister(s) })
	assert.Equal(t, 0, hub.Count())

	_, ok := <-s.Messages()
	assert.False(t, ok)
}

func TestHub_DisconnectDuringBroadcast(t *testing.T) {
	hub, _ := newTestHub(64)

	const leaving = 20
	stay := hub.NewSubscriber("sse")
	hub.Register(stay)

	var subs []*Subscriber
	for i := 0; i < leaving; i++ {
		s := hub.NewSubscriber("sse")
		hub.Register(s)
		subs = append(subs, s)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for v := int64(1); v <= 50; v++ {
			hub.Broadcast(snapshotAt(v, 1))
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range subs {
			hub.Unregister(s)
		}
	}()
	wg.Wait()

	assert.Equal(t, 1, hub.Count())
	for v := int64(1); v <= 50; v++ {
		assert.Equal(t, v, receive(t, stay).Version)
	}
}

func TestHub_RunSendsHeartbeats(t *testing.T) {
	hub, clock := newTestHub(4)
	s := hub.NewSubscriber("sse")
	hub.Register(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(25 * time.Second)
	assert.True(t, receive(t, s).Heartbeat)

	cancel()
	<-done

	_, ok := <-s.Messages()
	assert.False(t, ok, "Run should stop the hub on exit")
	assert.False(t, hub.Register(hub.NewSubscriber("sse")))
}

func TestHub_StopClosesSubscribers(t *testing.T) {
	hub, _ := newTestHub(1)
	a, b := hub.NewSubscriber("sse"), hub.NewSubscriber("ws")
	hub.Register(a)
	hub.Register(b)

	hub.Stop()
	hub.Stop()

	assert.Equal(t, 0, hub.Count())
	for _, s := range []*Subscriber{a, b} {
		_, ok := <-s.Messages()
		assert.False(t, ok)
	}
}

func TestSubscriber_AcceptDropsStaleSnapshots(t *testing.T) {
	s := NewSubscriber("sse", 1)

	assert.True(t, s.Accept(models.MLiveMessage{Version: 5}))
	assert.False(t, s.Accept(models.MLiveMessage{Version: 4}))
	assert.True(t, s.Accept(models.MLiveMessage{Heartbeat: true}))
	assert.True(t, s.Accept(models.MLiveMessage{Version: 5}))
	assert.True(t, s.Accept(models.MLiveMessage{Version: 9}))
}
