// ABOUTME: In-memory pub/sub hub with named-room group semantics.
// ABOUTME: Fans published events out to room members on independent buffered channels.

package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// memberBufferSize is the event buffer for each room member. A member that
// falls this far behind starts losing events rather than stalling the room.
const memberBufferSize = 64

// Event names used on the broker channel.
const (
	EventConnected = "connected"
	EventStream    = "stream"
	EventEnd       = "end"
)

// Event is one unit delivered to room members.
type Event struct {
	Name    string
	Payload any
}

// Subscription represents one member connection to a room.
type Subscription struct {
	ConnID string
	RoomID string
	Events <-chan Event
}

type member struct {
	id string
	ch chan Event
}

// Broker maintains named rooms of live member connections and relays
// published events to all current members. Rooms are created on first join
// and removed when their last member leaves. Delivery to each member is
// non-blocking: a full member buffer drops the event for that member only,
// so one slow or broken member never stalls the others.
type Broker struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*member
	logger *slog.Logger
}

// NewBroker creates a broker. Pass nil logger for default.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		rooms:  make(map[string]map[string]*member),
		logger: logger.With("component", "room-broker"),
	}
}

// Join adds a new connection to the given room and returns its
// subscription. The joining member alone receives a "connected"
// acknowledgment carrying its connection id. The membership is cleaned up
// when ctx is cancelled, as an abrupt disconnect (no terminal broadcast).
func (b *Broker) Join(ctx context.Context, roomID string) *Subscription {
	m := &member{
		id: uuid.New().String(),
		ch: make(chan Event, memberBufferSize),
	}

	b.mu.Lock()
	if _, ok := b.rooms[roomID]; !ok {
		b.rooms[roomID] = make(map[string]*member)
	}
	b.rooms[roomID][m.id] = m
	b.mu.Unlock()

	// Ack goes to the joining connection only, before any room traffic.
	m.ch <- Event{Name: EventConnected, Payload: fmt.Sprintf("%s connected", m.id)}

	b.logger.Debug("member joined", "room", roomID, "conn_id", m.id)

	go func() {
		<-ctx.Done()
		b.Disconnect(m.id)
	}()

	return &Subscription{ConnID: m.id, RoomID: roomID, Events: m.ch}
}

// Publish delivers an event to every current member of the room. If
// excludeConnID is non-empty that member is skipped: publishes originating
// from a member connection exclude the publisher itself, while publishes
// from a non-member producer pass "" and reach the whole room.
func (b *Broker) Publish(roomID, event string, payload any, excludeConnID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	members, ok := b.rooms[roomID]
	if !ok {
		return
	}

	// Delivery stays under the read lock: sends never block (select with
	// default) and channel close only happens under the write lock, so a
	// member can never be closed out from under an in-flight send.
	ev := Event{Name: event, Payload: payload}
	for id, m := range members {
		if excludeConnID != "" && id == excludeConnID {
			continue
		}
		select {
		case m.ch <- ev:
		default:
			b.logger.Debug("dropped event for slow member",
				"room", roomID,
				"conn_id", m.id,
				"event", event)
		}
	}
}

// Leave removes the connection from the room and broadcasts a terminal
// "end" event carrying finalPayload to the remaining members. This is the
// graceful counterpart of Disconnect.
func (b *Broker) Leave(connID, roomID string, finalPayload any) {
	if !b.remove(connID, roomID) {
		return
	}
	b.logger.Debug("member left", "room", roomID, "conn_id", connID)
	b.Publish(roomID, EventEnd, finalPayload, "")
}

// Disconnect removes the connection from every room it belongs to without
// any terminal broadcast, distinguishing an abrupt drop from a graceful end.
func (b *Broker) Disconnect(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for roomID, members := range b.rooms {
		m, ok := members[connID]
		if !ok {
			continue
		}
		delete(members, connID)
		close(m.ch)
		if len(members) == 0 {
			delete(b.rooms, roomID)
		}
		b.logger.Debug("member disconnected", "room", roomID, "conn_id", connID)
	}
}

// remove deletes the membership and closes its channel, reporting whether
// the connection was a member of the room.
func (b *Broker) remove(connID, roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[roomID]
	if !ok {
		return false
	}
	m, ok := members[connID]
	if !ok {
		return false
	}
	delete(members, connID)
	close(m.ch)
	if len(members) == 0 {
		delete(b.rooms, roomID)
	}
	return true
}

// MemberCount reports the current member count of a room.
func (b *Broker) MemberCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

// Close shuts down the broker and closes every member channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for roomID, members := range b.rooms {
		for id, m := range members {
			close(m.ch)
			delete(members, id)
		}
		delete(b.rooms, roomID)
	}
	b.logger.Debug("broker closed")
}
