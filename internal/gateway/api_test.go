// ABOUTME: Tests for the gateway HTTP API surface.
// ABOUTME: Runs the full mux against fake upstream, registry, and datastore servers.

package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// testFixture is a gateway wired to fake upstream servers.
type testFixture struct {
	gw       *Gateway
	server   *httptest.Server
	store    *store.SQLiteStore
	upstream *fakeUpstream
}

// fakeUpstream controls the answer provider's responses.
type fakeUpstream struct {
	streamBody   string
	searchStatus int
	streamStatus int
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	fx := &testFixture{upstream: &fakeUpstream{
		streamBody: `[{"answer":{"state":"SUCCEEDED","answerText":"fallback"}}]`,
	}}

	upstreamMux := http.NewServeMux()
	upstreamMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":search"):
			if fx.upstream.searchStatus != 0 {
				http.Error(w, "search rejected", fx.upstream.searchStatus)
				return
			}
			fmt.Fprint(w, `{"sessionInfo":{"name":"x/sessions/sess-1","queryId":"q-1"}}`)
		case strings.HasSuffix(r.URL.Path, ":streamAnswer"):
			if fx.upstream.streamStatus != 0 {
				http.Error(w, "stream rejected", fx.upstream.streamStatus)
				return
			}
			fmt.Fprint(w, fx.upstream.streamBody)
		case strings.HasSuffix(r.URL.Path, "/sessions") && r.Method == http.MethodGet:
			fmt.Fprint(w, `{"sessions":[{"name":"x/sessions/s1","startTime":"2026-01-01T00:00:00Z","endTime":"2026-01-01T00:05:00Z"}]}`)
		case strings.HasSuffix(r.URL.Path, "/sessions") && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"name":"x/sessions/s-new"}`)
		case r.Method == http.MethodDelete:
			fmt.Fprint(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	})
	upstreamSrv := httptest.NewServer(upstreamMux)
	t.Cleanup(upstreamSrv.Close)

	registryMux := http.NewServeMux()
	registryMux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"tok-abc"}`)
	})
	registryMux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"schemes":[{"guid":"g-1"},{"guid":"g-2"}]}`)
	})
	registryMux.HandleFunc("/details", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprintf(w, `{"guid":%q,"detail":true}`, body["schemeId"])
	})
	registrySrv := httptest.NewServer(registryMux)
	t.Cleanup(registrySrv.Close)

	datastoreSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"ok":true}}`)
	}))
	t.Cleanup(datastoreSrv.Close)

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Upstream.EngineID = "eng"
	cfg.Upstream.LanguageCode = "en"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := metrics.New()
	rooms := room.NewBroker(nil)
	t.Cleanup(rooms.Close)

	provider := discovery.NewClient(discovery.Config{
		Host:      upstreamSrv.URL,
		ProjectID: "p",
	}, auth.Static("tok"), nil)

	schemeClient := schemes.NewClient(schemes.Config{
		TokenURL:   registrySrv.URL + "/token",
		ListURL:    registrySrv.URL + "/list",
		DetailsURL: registrySrv.URL + "/details",
	}, nil)

	uploads := datastore.NewClient(datastore.Config{UploadBaseURL: datastoreSrv.URL}, nil)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		rooms:        rooms,
		provider:     provider,
		orchestrator: relay.New(provider, rooms, &exchangeRecorder{store: s}, m, nil),
		schemes:      schemeClient,
		syncer:       schemes.NewSyncer(schemeClient, uploads, gate.New(4), m, nil),
		metrics:      m,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	srv := httptest.NewServer(gw.withMetrics(gw.buildMux()))
	t.Cleanup(srv.Close)

	fx.gw = gw
	fx.server = srv
	fx.store = s
	return fx
}

// post sends a JSON body and decodes the results envelope.
func (fx *testFixture) post(t *testing.T, path string, body any, headers map[string]string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req, err := http.NewRequest(http.MethodPost, fx.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func TestHealthz(t *testing.T) {
	fx := newTestFixture(t)

	resp, err := http.Get(fx.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestAnswerEndpoint(t *testing.T) {
	fx := newTestFixture(t)
	fx.upstream.streamBody = `[
		{"answer":{"state":"STREAMING","answerText":"part"}},
		{"answer":{"state":"SUCCEEDED","answerText":"full answer","citations":[{"c":1}]},
		 "session":{"name":"x/sessions/sess-1"}}
	]`

	resp, envelope := fx.post(t, "/agent/search/answer/sess-1",
		map[string]string{"query": "what is covered"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var answer AnswerResponse
	require.NoError(t, json.Unmarshal(envelope["results"], &answer))
	assert.Equal(t, "full answer", answer.AnswerText)
	assert.Equal(t, "sess-1", answer.SessionID)
	assert.Len(t, answer.Citations, 1)

	// the exchange lands in the audit store
	exchanges, err := fx.store.ListExchanges(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "succeeded", exchanges[0].Outcome)
	assert.Equal(t, "what is covered", exchanges[0].Query)
}

func TestAnswerRequiresQuery(t *testing.T) {
	fx := newTestFixture(t)

	resp, envelope := fx.post(t, "/agent/search/answer/s1", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(envelope["results"]), "query is required")
}

func TestAnswerUpstreamErrorPropagatesStatus(t *testing.T) {
	fx := newTestFixture(t)
	fx.upstream.streamStatus = http.StatusTooManyRequests

	resp, envelope := fx.post(t, "/agent/search/answer/s1",
		map[string]string{"query": "q"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var msg string
	require.NoError(t, json.Unmarshal(envelope["results"], &msg))
	assert.Contains(t, msg, "rejected")
}

func TestListSessionsEndpoint(t *testing.T) {
	fx := newTestFixture(t)

	resp, envelope := fx.post(t, "/agent/sessions/list", map[string]string{"engine": "eng"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessions []discovery.SessionSummary
	require.NoError(t, json.Unmarshal(envelope["results"], &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
}

func TestGenerateTokenEndpoint(t *testing.T) {
	fx := newTestFixture(t)

	resp, envelope := fx.post(t, "/schemes/token/generate", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"token":"tok-abc"}`, string(envelope["results"]))
}

func TestListHierarchyEndpointRecordsSyncRun(t *testing.T) {
	fx := newTestFixture(t)

	resp, envelope := fx.post(t, "/schemes/list/hierarchy",
		map[string]string{"language": "en"},
		map[string]string{"Authorization": "Bearer tok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var details []json.RawMessage
	require.NoError(t, json.Unmarshal(envelope["results"], &details))
	assert.Len(t, details, 2)

	runs, err := fx.store.ListSyncRuns(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.SyncKindList, runs[0].Kind)
	assert.Equal(t, 2, runs[0].Items)
}

func TestUploadHierarchyEndpoint(t *testing.T) {
	fx := newTestFixture(t)

	resp, envelope := fx.post(t, "/schemes/hierarchy/upload",
		map[string]string{"language": "en", "datastoreId": "ds-1"},
		map[string]string{"Authorization": "Bearer tok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var details []json.RawMessage
	require.NoError(t, json.Unmarshal(envelope["results"], &details))
	assert.Len(t, details, 2)

	runs, err := fx.store.ListSyncRuns(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.SyncKindUpload, runs[0].Kind)
	assert.Equal(t, "ds-1", runs[0].DatastoreID)
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newTestFixture(t)

	// generate one counted request first
	resp, err := http.Get(fx.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(fx.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gateway_http_requests_total")
}
