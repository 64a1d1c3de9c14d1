// Package room implements the in-memory pub/sub broker behind the
// streaming endpoints.
//
// # Model
//
// A Broker holds named rooms. Join adds a member and returns a
// Subscription with a unique connection id and a buffered event
// channel; the joining member immediately receives a connected
// acknowledgment. Publish fans an event out to every member of a room,
// optionally excluding the publisher's own connection. Delivery never
// blocks: a member whose buffer is full misses that event.
//
// Leave removes a member from one room after delivering a final
// payload. Disconnect removes a member from every room it joined.
// Empty rooms are deleted.
//
// # Usage
//
//	broker := room.NewBroker(logger)
//	sub := broker.Join(ctx, "session-1")
//	broker.Publish("session-1", room.EventStream, payload, "")
//	broker.Leave(sub.ConnID, "session-1", "done streaming")
package room
