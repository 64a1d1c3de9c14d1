// ABOUTME: Gateway orchestrator that wires the HTTP server, broker, and clients
// ABOUTME: Manages store, metrics, and listener lifecycle including Tailscale

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsnet"

	"github.com/schemeworks/scheme-gateway/internal/auth"
	"github.com/schemeworks/scheme-gateway/internal/config"
	"github.com/schemeworks/scheme-gateway/internal/datastore"
	"github.com/schemeworks/scheme-gateway/internal/discovery"
	"github.com/schemeworks/scheme-gateway/internal/gate"
	"github.com/schemeworks/scheme-gateway/internal/metrics"
	"github.com/schemeworks/scheme-gateway/internal/relay"
	"github.com/schemeworks/scheme-gateway/internal/room"
	"github.com/schemeworks/scheme-gateway/internal/schemes"
	"github.com/schemeworks/scheme-gateway/internal/store"
)

// Gateway orchestrates the scheme-gateway server components.
// It owns the HTTP server, the stream room broker, and the upstream clients.
type Gateway struct {
	config       *config.Config
	store        store.Store
	rooms        *room.Broker
	provider     *discovery.Client
	orchestrator *relay.Orchestrator
	schemes      *schemes.Client
	syncer       *schemes.Syncer
	metrics      *metrics.Metrics
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	// streamMu guards the init handshake state
	streamMu    sync.Mutex
	streamReady bool
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SCHEME_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// exchangeRecorder adapts the audit store to the relay recorder interface.
type exchangeRecorder struct {
	store store.Store
}

func (r *exchangeRecorder) RecordExchange(ctx context.Context, rec relay.ExchangeRecord) error {
	return r.store.RecordExchange(ctx, &store.Exchange{
		SessionID: rec.SessionID,
		Query:     rec.Query,
		Outcome:   rec.Outcome,
		Chunks:    rec.Chunks,
		Duration:  rec.Duration,
	})
}

// New creates a new Gateway instance with the given configuration.
// The context is used for resolving upstream credentials.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewGoogleSource(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("resolving upstream credentials: %w", err)
	}

	m := metrics.New()
	rooms := room.NewBroker(logger.With("component", "broker"))

	provider := discovery.NewClient(discovery.Config{
		Host:         cfg.Upstream.Host,
		ProjectID:    cfg.Upstream.ProjectID,
		ModelVersion: cfg.Upstream.ModelVersion,
		Preamble:     cfg.Upstream.Preamble,
		Timeout:      cfg.Upstream.Timeout,
	}, tokens, logger)

	orchestrator := relay.New(provider, rooms, &exchangeRecorder{store: s}, m, logger)

	schemeClient := schemes.NewClient(schemes.Config{
		TokenURL:   cfg.Schemes.TokenURL,
		ListURL:    cfg.Schemes.ListURL,
		DetailsURL: cfg.Schemes.DetailsURL,
		APIKey:     cfg.Schemes.APIKey,
		SecretKey:  cfg.Schemes.SecretKey,
		StateCode:  cfg.Schemes.StateCode,
		Timeout:    cfg.Schemes.Timeout,
	}, logger)

	uploads := datastore.NewClient(datastore.Config{
		UploadBaseURL: cfg.Datastore.UploadBaseURL,
		Timeout:       cfg.Datastore.Timeout,
	}, logger)

	syncer := schemes.NewSyncer(schemeClient, uploads, gate.New(cfg.Sync.MaxInFlight), m, logger)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		rooms:        rooms,
		provider:     provider,
		orchestrator: orchestrator,
		schemes:      schemeClient,
		syncer:       syncer,
		metrics:      m,
		logger:       logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.withMetrics(gw.buildMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// statusWriter captures the response status for metrics. Flush is forwarded
// so SSE handlers keep working behind the wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withMetrics counts every request by matched route pattern and status.
func (g *Gateway) withMetrics(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(sw, r)
		g.metrics.HTTPRequests.WithLabelValues(pattern, strconv.Itoa(sw.status)).Inc()
	})
}

// buildMux registers every HTTP route on a fresh mux.
func (g *Gateway) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", g.handleHealthz)

	// answer agent surface
	mux.HandleFunc("POST /agent/search/answer/{sessionId}", g.handleAnswer)
	mux.HandleFunc("POST /agent/search/answer", g.handleAnswer)
	mux.HandleFunc("POST /agent/session/create", g.handleCreateSession)
	mux.HandleFunc("POST /agent/sessions/list", g.handleListSessions)
	mux.HandleFunc("DELETE /agent/sessions/delete/{sessionId}", g.handleDeleteSession)
	mux.HandleFunc("DELETE /agent/sessions/delete", g.handleDeleteSession)

	// scheme registry surface
	mux.HandleFunc("POST /schemes/token/generate", g.handleGenerateToken)
	mux.HandleFunc("POST /schemes/list", g.handleListSchemes)
	mux.HandleFunc("POST /schemes/details/{schemeId}", g.handleSchemeDetails)
	mux.HandleFunc("POST /schemes/list/hierarchy", g.handleListHierarchy)
	mux.HandleFunc("POST /schemes/list/upload", g.handleUploadList)
	mux.HandleFunc("POST /schemes/hierarchy/upload", g.handleUploadHierarchy)

	// stream broker surface
	mux.HandleFunc("POST /stream/init", g.handleStreamInit)
	mux.HandleFunc("GET /stream/events", g.handleStreamEvents)
	mux.HandleFunc("POST /stream", g.handleStreamPublish)
	mux.HandleFunc("POST /end", g.handleStreamEnd)

	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(g.metrics.Registry, promhttp.HandlerOpts{}))
	}

	return mux
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the gateway server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	g.rooms.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealthz returns 200 OK if the server is alive.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
