// ABOUTME: HTTP surface of the stream room broker: init handshake, SSE join, publish, end.
// ABOUTME: Mirrors the connected/stream/end event protocol over server-sent events.

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/schemeworks/scheme-gateway/internal/room"
)

const (
	// streamRoomParam names the room a client joins on the events endpoint.
	streamRoomParam = "stream-room"

	// streamConnHeader carries a member's connection id on publish and end
	// requests so its own events can be excluded.
	streamConnHeader = "X-Stream-Connection"

	alreadyInitiated      = "Already initiated\n"
	successfullyInitiated = "Successfully initiated\n"
)

// StreamPublishRequest is the JSON request body for POST /stream.
type StreamPublishRequest struct {
	Room   string          `json:"room"`
	Buffer json.RawMessage `json:"buffer"`
}

// StreamEndRequest is the JSON request body for POST /end.
type StreamEndRequest struct {
	Room    string `json:"room"`
	Message string `json:"message,omitempty"`
}

// handleStreamInit is the idempotent broker handshake. The first call arms
// the broker surface; later calls report that it is already up.
func (g *Gateway) handleStreamInit(w http.ResponseWriter, r *http.Request) {
	g.streamMu.Lock()
	ready := g.streamReady
	g.streamReady = true
	g.streamMu.Unlock()

	w.Header().Set("Content-Type", "text/plain")
	if ready {
		fmt.Fprint(w, alreadyInitiated)
		return
	}
	g.logger.Info("stream broker initiated")
	fmt.Fprint(w, successfullyInitiated)
}

func (g *Gateway) brokerReady() bool {
	g.streamMu.Lock()
	defer g.streamMu.Unlock()
	return g.streamReady
}

// handleStreamEvents joins the caller to a room and streams its events as
// SSE until the client disconnects. The connection id is exposed both as a
// response header and in the initial connected event.
func (g *Gateway) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if !g.brokerReady() {
		http.Error(w, "stream broker not initiated", http.StatusConflict)
		return
	}

	roomID := r.URL.Query().Get(streamRoomParam)
	if roomID == "" {
		http.Error(w, "stream-room query parameter is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := g.rooms.Join(r.Context(), roomID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.Header().Set(streamConnHeader, sub.ConnID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				g.logger.Warn("dropping unencodable event", "event", ev.Name, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
		}
	}
}

// handleStreamPublish fans a buffer out to a room. When the caller passes
// its own connection id it is excluded from the delivery, matching how a
// member's publishes skip itself.
func (g *Gateway) handleStreamPublish(w http.ResponseWriter, r *http.Request) {
	if !g.brokerReady() {
		http.Error(w, "stream broker not initiated", http.StatusConflict)
		return
	}

	body, err := decodeBody[StreamPublishRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}
	if body.Room == "" {
		g.writeBadRequest(w, fmt.Errorf("room is required"))
		return
	}

	g.rooms.Publish(body.Room, room.EventStream, body.Buffer, r.Header.Get(streamConnHeader))
	g.writeResults(w, "published")
}

// handleStreamEnd broadcasts the terminal event to the room. A caller that
// identifies its own connection also leaves the room first; a non-member
// producer terminates the room without a membership change.
func (g *Gateway) handleStreamEnd(w http.ResponseWriter, r *http.Request) {
	if !g.brokerReady() {
		http.Error(w, "stream broker not initiated", http.StatusConflict)
		return
	}

	body, err := decodeBody[StreamEndRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}
	if body.Room == "" {
		g.writeBadRequest(w, fmt.Errorf("room is required"))
		return
	}

	if connID := r.Header.Get(streamConnHeader); connID != "" {
		g.rooms.Leave(connID, body.Room, body.Message)
	} else {
		g.rooms.Publish(body.Room, room.EventEnd, body.Message, "")
	}
	g.writeResults(w, "ended")
}
