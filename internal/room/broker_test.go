// ABOUTME: Tests for the room broker pub/sub hub.
// ABOUTME: Covers join acks, room isolation, leave/disconnect semantics, and slow members.

package room

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		require.True(t, ok, "channel closed while waiting for event")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func requireNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		if ok {
			t.Fatalf("unexpected event %q", ev.Name)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// drainAck consumes the "connected" acknowledgment sent on join.
func drainAck(t *testing.T, sub *Subscription) {
	t.Helper()
	ev := recvEvent(t, sub)
	require.Equal(t, EventConnected, ev.Name)
}

func TestBroker_JoinAcksJoiningConnectionOnly(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	first := b.Join(t.Context(), "room-1")
	ack := recvEvent(t, first)
	assert.Equal(t, EventConnected, ack.Name)
	msg, ok := ack.Payload.(string)
	require.True(t, ok)
	assert.Equal(t, first.ConnID+" connected", msg)

	// A second join must not leak its ack to the first member.
	second := b.Join(t.Context(), "room-1")
	drainAck(t, second)
	requireNoEvent(t, first)
}

func TestBroker_PublishReachesRoomMembersOnly(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	a := b.Join(t.Context(), "R")
	bb := b.Join(t.Context(), "R")
	c := b.Join(t.Context(), "S")
	drainAck(t, a)
	drainAck(t, bb)
	drainAck(t, c)

	b.Publish("R", EventStream, "payload", "")

	for _, sub := range []*Subscription{a, bb} {
		ev := recvEvent(t, sub)
		assert.Equal(t, EventStream, ev.Name)
		assert.Equal(t, "payload", ev.Payload)
	}
	requireNoEvent(t, c)
}

func TestBroker_PublishExcludesOriginatingMember(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	publisher := b.Join(t.Context(), "R")
	listener := b.Join(t.Context(), "R")
	drainAck(t, publisher)
	drainAck(t, listener)

	b.Publish("R", EventStream, "from-member", publisher.ConnID)

	ev := recvEvent(t, listener)
	assert.Equal(t, "from-member", ev.Payload)
	requireNoEvent(t, publisher)
}

func TestBroker_LeaveBroadcastsEndToRemaining(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	leaver := b.Join(t.Context(), "R")
	stayer := b.Join(t.Context(), "R")
	drainAck(t, leaver)
	drainAck(t, stayer)

	b.Leave(leaver.ConnID, "R", "all done")

	ev := recvEvent(t, stayer)
	assert.Equal(t, EventEnd, ev.Name)
	assert.Equal(t, "all done", ev.Payload)

	// The leaver's channel is closed and it receives nothing further.
	select {
	case _, ok := <-leaver.Events:
		assert.False(t, ok, "leaver channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("leaver channel not closed")
	}

	// Subsequent publishes no longer reach the leaver.
	b.Publish("R", EventStream, "later", "")
	ev = recvEvent(t, stayer)
	assert.Equal(t, "later", ev.Payload)
}

func TestBroker_DisconnectIsSilent(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	gone := b.Join(t.Context(), "R")
	stayer := b.Join(t.Context(), "R")
	drainAck(t, gone)
	drainAck(t, stayer)

	b.Disconnect(gone.ConnID)

	// No terminal broadcast for an abrupt disconnect.
	requireNoEvent(t, stayer)
	assert.Equal(t, 1, b.MemberCount("R"))
}

func TestBroker_ContextCancellationDisconnects(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	sub := b.Join(ctx, "R")
	drainAck(t, sub)
	require.Equal(t, 1, b.MemberCount("R"))

	cancel()

	require.Eventually(t, func() bool {
		return b.MemberCount("R") == 0
	}, time.Second, 10*time.Millisecond, "membership should be cleaned up on cancel")
}

func TestBroker_EmptyRoomIsRemoved(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	sub := b.Join(t.Context(), "ephemeral")
	drainAck(t, sub)
	b.Leave(sub.ConnID, "ephemeral", nil)

	b.mu.RLock()
	_, exists := b.rooms["ephemeral"]
	b.mu.RUnlock()
	assert.False(t, exists, "empty room should be deleted")
}

func TestBroker_SlowMemberDoesNotBlockPublisher(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	// slow never reads; fast does.
	_ = b.Join(t.Context(), "R")
	fast := b.Join(t.Context(), "R")
	drainAck(t, fast)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 2 * memberBufferSize {
			b.Publish("R", EventStream, i, "")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow member")
	}

	received := 0
	for {
		select {
		case <-fast.Events:
			received++
		case <-time.After(100 * time.Millisecond):
			assert.Greater(t, received, 0, "fast member should keep receiving")
			return
		}
	}
}

func TestBroker_PublishToUnknownRoomIsNoop(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()
	b.Publish("nobody", EventStream, "x", "")
	b.Leave("no-conn", "nobody", nil)
	b.Disconnect("no-conn")
}

func TestBroker_ConnIDsAreUnique(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	seen := map[string]bool{}
	for range 20 {
		sub := b.Join(t.Context(), "R")
		require.False(t, seen[sub.ConnID], "duplicate conn id")
		require.False(t, strings.Contains(sub.ConnID, " "))
		seen[sub.ConnID] = true
	}
}

func TestBroker_ConcurrentJoinPublishLeave(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			sub := b.Join(t.Context(), "busy")
			for range 5 {
				select {
				case <-sub.Events:
				case <-time.After(200 * time.Millisecond):
				}
			}
			b.Leave(sub.ConnID, "busy", "bye")
		})
	}
	for range 10 {
		wg.Go(func() {
			for i := range 20 {
				b.Publish("busy", EventStream, i, "")
			}
		})
	}
	wg.Wait()
}
