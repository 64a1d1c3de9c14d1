// ABOUTME: HTTP API handlers for the answer agent and scheme registry surfaces.
// ABOUTME: Every response wraps its payload in a {"results": ...} envelope.

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/schemeworks/scheme-gateway/internal/httperr"
	"github.com/schemeworks/scheme-gateway/internal/relay"
	"github.com/schemeworks/scheme-gateway/internal/store"
)

// statusFromError maps an upstream failure to the response status: the
// upstream code when the error carries one, 500 otherwise.
func statusFromError(err error) int {
	return httperr.StatusCode(err, http.StatusInternalServerError)
}

// resultsEnvelope wraps every API response body. On errors Results carries
// the error message string instead of a payload.
type resultsEnvelope struct {
	Results any `json:"results"`
}

// AnswerRequest is the JSON request body for POST /agent/search/answer/{sessionId}.
type AnswerRequest struct {
	Engine  string `json:"engine"`
	Session string `json:"session,omitempty"` // display name, only used by session create
	Query   string `json:"query"`
}

// AnswerResponse is the JSON payload of a successful answer exchange.
type AnswerResponse struct {
	AnswerText string            `json:"answerText"`
	Citations  []json.RawMessage `json:"citations"`
	References []json.RawMessage `json:"references"`
	SessionID  string            `json:"sessionId"`
}

// SchemeRequest is the JSON request body shared by the scheme endpoints.
type SchemeRequest struct {
	Language    string `json:"language"`
	DatastoreID string `json:"datastoreId,omitempty"`
	DocumentID  string `json:"documentId,omitempty"`
}

func (g *Gateway) writeResults(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resultsEnvelope{Results: payload}); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// writeError sends the upstream status code when the error carries one,
// otherwise 500, with the message in the results envelope.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	code := statusFromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resultsEnvelope{Results: err.Error()})
}

// engineID falls back to the configured default engine.
func (g *Gateway) engineID(requested string) string {
	if requested != "" {
		return requested
	}
	return g.config.Upstream.EngineID
}

// languageCode reads the language header, falling back to the configured default.
func (g *Gateway) languageCode(r *http.Request) string {
	if lang := r.Header.Get("language"); lang != "" {
		return lang
	}
	return g.config.Upstream.LanguageCode
}

func decodeBody[T any](r *http.Request) (T, error) {
	var body T
	if r.Body == nil || r.ContentLength == 0 {
		return body, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("invalid request body: %w", err)
	}
	return body, nil
}

// handleAnswer runs a full answer exchange. The path session id binds the
// query to an existing upstream session; without one the query runs free.
func (g *Gateway) handleAnswer(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[AnswerRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}
	if body.Query == "" {
		g.writeBadRequest(w, fmt.Errorf("query is required"))
		return
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pagesize"))

	result, err := g.orchestrator.Answer(r.Context(), relay.Request{
		EngineID:     g.engineID(body.Engine),
		SessionID:    r.PathValue("sessionId"),
		Query:        body.Query,
		LanguageCode: g.languageCode(r),
		PageSize:     pageSize,
	})
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeResults(w, AnswerResponse{
		AnswerText: result.Answer.Text,
		Citations:  result.Answer.Citations,
		References: result.Answer.References,
		SessionID:  result.SessionID,
	})
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[AnswerRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}

	raw, err := g.provider.CreateSession(r.Context(), g.engineID(body.Engine), body.Session)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeResults(w, json.RawMessage(raw))
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[AnswerRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}

	sessions, err := g.provider.ListSessions(r.Context(), g.engineID(body.Engine))
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeResults(w, sessions)
}

// handleDeleteSession deletes one session when the path names it, or every
// session of the engine when it does not.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[AnswerRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}
	engineID := g.engineID(body.Engine)

	if sessionID := r.PathValue("sessionId"); sessionID != "" {
		raw, err := g.provider.DeleteSession(r.Context(), engineID, sessionID)
		if err != nil {
			g.writeError(w, err)
			return
		}
		g.writeResults(w, json.RawMessage(raw))
		return
	}

	if err := g.provider.DeleteAllSessions(r.Context(), engineID); err != nil {
		g.writeError(w, err)
		return
	}
	g.writeResults(w, []any{})
}

func (g *Gateway) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	raw, err := g.schemes.GenerateToken(r.Context())
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeResults(w, json.RawMessage(raw))
}

func (g *Gateway) handleListSchemes(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[SchemeRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}

	list, err := g.schemes.ListSchemes(r.Context(), r.Header.Get("Authorization"), body.Language)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeResults(w, json.RawMessage(list.Raw))
}

func (g *Gateway) handleSchemeDetails(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[SchemeRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}

	raw, err := g.schemes.Details(r.Context(), r.Header.Get("Authorization"), body.Language, r.PathValue("schemeId"))
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeResults(w, json.RawMessage(raw))
}

func (g *Gateway) handleListHierarchy(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[SchemeRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}

	start := time.Now()
	details, err := g.syncer.ListHierarchy(r.Context(), r.Header.Get("Authorization"), body.Language)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.recordSyncRun(r, &store.SyncRun{
		Kind:     store.SyncKindList,
		Language: body.Language,
		Items:    len(details),
		Duration: time.Since(start),
	})
	g.writeResults(w, details)
}

func (g *Gateway) handleUploadList(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[SchemeRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}

	raw, err := g.syncer.UploadList(r.Context(), r.Header.Get("Authorization"),
		body.Language, body.DatastoreID, body.DocumentID)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeResults(w, json.RawMessage(raw))
}

func (g *Gateway) handleUploadHierarchy(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[SchemeRequest](r)
	if err != nil {
		g.writeBadRequest(w, err)
		return
	}

	start := time.Now()
	details, err := g.syncer.UploadHierarchy(r.Context(), r.Header.Get("Authorization"),
		body.Language, body.DatastoreID)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.recordSyncRun(r, &store.SyncRun{
		Kind:        store.SyncKindUpload,
		Language:    body.Language,
		DatastoreID: body.DatastoreID,
		Items:       len(details),
		Duration:    time.Since(start),
	})
	g.writeResults(w, details)
}

func (g *Gateway) writeBadRequest(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(resultsEnvelope{Results: err.Error()})
}

func (g *Gateway) recordSyncRun(r *http.Request, run *store.SyncRun) {
	if g.store == nil {
		return
	}
	if err := g.store.RecordSyncRun(r.Context(), run); err != nil {
		g.logger.Warn("failed to record sync run", "error", err)
	}
}
