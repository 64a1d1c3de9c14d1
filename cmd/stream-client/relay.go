// ABOUTME: Relay peer HTTP server that forwards events into a joined gateway room
// ABOUTME: Holds one live SSE subscription and re-publishes /stream and /end bodies

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// relayServer exposes the relay control endpoints. It holds at most one
// live connection to a gateway room; /init/{roomId} swaps it, /stream and
// /end forward their bodies into the joined room.
type relayServer struct {
	gatewayURL string
	logger     *slog.Logger
	client     *http.Client

	mu   sync.Mutex
	conn *relayConn
}

type relayConn struct {
	room   string
	connID string
	cancel context.CancelFunc
}

func newRelayServer(gatewayURL string, logger *slog.Logger) *relayServer {
	return &relayServer{
		gatewayURL: gatewayURL,
		logger:     logger.With("component", "relay"),
		client:     &http.Client{},
	}
}

func (s *relayServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /init/{roomId}", s.handleInit)
	mux.HandleFunc("POST /stream", s.handleStream)
	mux.HandleFunc("POST /end", s.handleEnd)
	return mux
}

// handleInit performs the one-time broker-ready handshake and joins the
// given room over SSE. A previous room connection, if any, is dropped.
func (s *relayServer) handleInit(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	initBody, status, err := s.post(r.Context(), "/stream/init", nil, "")
	if err != nil {
		http.Error(w, fmt.Sprintf("broker handshake failed: %v", err), http.StatusBadGateway)
		return
	}
	if status != http.StatusOK {
		http.Error(w, strings.TrimSpace(string(initBody)), status)
		return
	}

	// The subscription outlives this request; it ends on /end, on the next
	// /init, or when the gateway drops us.
	ctx, cancel := context.WithCancel(context.Background())

	eventsURL := fmt.Sprintf("%s/stream/events?stream-room=%s", s.gatewayURL, url.QueryEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, eventsURL, nil)
	if err != nil {
		cancel()
		http.Error(w, fmt.Sprintf("creating subscribe request: %v", err), http.StatusInternalServerError)
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		http.Error(w, fmt.Sprintf("joining room: %v", err), http.StatusBadGateway)
		return
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		http.Error(w, strings.TrimSpace(string(body)), resp.StatusCode)
		return
	}

	conn := &relayConn{
		room:   roomID,
		connID: resp.Header.Get("X-Stream-Connection"),
		cancel: cancel,
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.cancel()
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn, resp.Body)

	s.logger.Info("joined room", "room", roomID, "conn_id", conn.connID)

	w.Header().Set("Content-Type", "text/plain")
	w.Write(initBody)
}

// readLoop drains the room's SSE stream, logging received events. When the
// stream ends the connection is cleared if it is still the active one.
func (s *relayServer) readLoop(conn *relayConn, body io.ReadCloser) {
	defer body.Close()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.cancel()
	}()

	var event string
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			s.logEvent(conn.room, event, strings.TrimPrefix(line, "data: "))
		}
	}
	s.logger.Info("room stream closed", "room", conn.room, "conn_id", conn.connID)
}

func (s *relayServer) logEvent(roomID, event, data string) {
	if event == "stream" {
		var buffer streamBuffer
		if err := json.Unmarshal([]byte(data), &buffer); err == nil {
			var text strings.Builder
			for _, cand := range buffer.Candidates {
				for _, part := range cand.Content.Parts {
					text.WriteString(part.Text)
				}
			}
			s.logger.Info("stream chunk", "room", roomID, "text", text.String())
			return
		}
	}
	s.logger.Info("room event", "room", roomID, "event", event, "data", data)
}

// handleStream forwards a raw event body into the currently joined room.
func (s *relayServer) handleStream(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, "/stream")
}

// handleEnd forwards a terminal event, which also makes the relay's own
// connection leave the room on the gateway side.
func (s *relayServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, "/end")
}

func (s *relayServer) forward(w http.ResponseWriter, r *http.Request, path string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		http.Error(w, "no active room connection, call /init/{roomId} first", http.StatusConflict)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("reading body: %v", err), http.StatusBadRequest)
		return
	}

	// The joined room fills in when the event body does not name one.
	var fields map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			http.Error(w, "body must be a JSON object", http.StatusBadRequest)
			return
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	if _, ok := fields["room"]; !ok {
		roomJSON, _ := json.Marshal(conn.room)
		fields["room"] = roomJSON
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		http.Error(w, fmt.Sprintf("encoding body: %v", err), http.StatusInternalServerError)
		return
	}

	respBody, status, err := s.post(r.Context(), path, payload, conn.connID)
	if err != nil {
		http.Error(w, fmt.Sprintf("forwarding to gateway: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(respBody)
}

// post sends raw JSON to a gateway endpoint, tagging the request with the
// relay's connection id so the gateway excludes it from its own publishes.
func (s *relayServer) post(ctx context.Context, path string, payload []byte, connID string) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if connID != "" {
		req.Header.Set("X-Stream-Connection", connID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// shutdown drops the active room connection, if any.
func (s *relayServer) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.cancel()
		s.conn = nil
	}
}

func runRelay(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	relay := newRelayServer(cfg.Gateway.URL, logger)
	defer relay.shutdown()

	srv := &http.Server{
		Addr:              cfg.Relay.ListenAddr,
		Handler:           relay.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", cfg.Relay.ListenAddr, "gateway", cfg.Gateway.URL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
