// Package gateway orchestrates the scheme-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the scheme-gateway
// server. It owns and manages all major components: HTTP server, room
// broker, answer relay, scheme registry clients, data store, and the
// optional Tailscale listener.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config       *config.Config
//	    store        store.Store
//	    rooms        *room.Broker
//	    provider     *discovery.Client
//	    orchestrator *relay.Orchestrator
//	    schemes      *schemes.Client
//	    syncer       *schemes.Syncer
//	    metrics      *metrics.Metrics
//	    httpServer   *http.Server
//	    tsnetServer  *tsnet.Server
//	    // ... and more
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go and streamapi.go:
//
//   - POST /agent/search/answer/{sessionId} - Ask a question, stream partials to a room
//   - POST /agent/session/create - Create an upstream session
//   - POST /agent/sessions/list - List upstream sessions
//   - DELETE /agent/sessions/delete/{sessionId} - Delete one or all sessions
//   - POST /schemes/token/generate - Obtain a registry token
//   - POST /schemes/list - List schemes
//   - POST /schemes/details/{schemeId} - Fetch one scheme's details
//   - POST /schemes/list/hierarchy - Fan out detail fetches for every scheme
//   - POST /schemes/hierarchy/upload - Fan out and upload details to a datastore
//   - POST /schemes/list/upload - Upload the raw scheme listing
//   - POST /stream/init, GET /stream/events, POST /stream, POST /end - Room streaming
//   - GET /healthz - Liveness check
//
// All responses use the envelope {"results": ...}. Errors carry the upstream
// status code when one is known, 500 otherwise.
//
// # SSE Streaming
//
// Room events are delivered as Server-Sent Events:
//
//	event: stream
//	data: {"candidates": [{"content": {"parts": [{"text": "..."}]}}]}
//
// Publishers send {"room": ..., "buffer": ...}; room members receive the
// bare buffer, the same shape on every producer path.
//
// Subscribers learn their connection id from the X-Stream-Connection
// response header; publishers may send the same header to exclude
// themselves from delivery.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx)
//
// Run blocks until the context is canceled, then shuts down gracefully.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown, metrics middleware
//   - api.go: Agent and scheme HTTP handlers
//   - streamapi.go: Streaming handshake and SSE handlers
//   - tailscale.go: tsnet listener setup (HTTPS, Funnel)
package gateway
