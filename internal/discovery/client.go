// ABOUTME: HTTP client for the answer provider (search, streamed answers, sessions).
// ABOUTME: Shapes request DTOs explicitly and maps non-success responses to status errors.

package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/schemeworks/scheme-gateway/internal/auth"
	"github.com/schemeworks/scheme-gateway/internal/httperr"
	"github.com/schemeworks/scheme-gateway/internal/stream"
)

// Config holds the provider endpoint and generation parameters.
type Config struct {
	Host         string        // provider host, scheme optional (https assumed)
	ProjectID    string
	ModelVersion string
	Preamble     string        // answer generation preamble prompt
	Timeout      time.Duration // zero leaves the transport default in place
}

// Client talks to the answer provider. All methods acquire a bearer token
// from the configured source per call.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens auth.TokenSource
	logger *slog.Logger
}

// NewClient creates a provider client. Pass nil logger for default.
func NewClient(cfg Config, tokens auth.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		logger: logger.With("component", "discovery"),
	}
}

// baseURL returns the provider origin, defaulting the scheme to https.
func (c *Client) baseURL() string {
	if strings.Contains(c.cfg.Host, "://") {
		return c.cfg.Host
	}
	return "https://" + c.cfg.Host
}

func (c *Client) engineURL(engineID, suffix string) string {
	return fmt.Sprintf("%s/%s%s", c.baseURL(), EngineName(c.cfg.ProjectID, engineID), suffix)
}

// QueryOptions identifies the engine, session, and query for a search.
type QueryOptions struct {
	EngineID     string
	SessionID    string // empty for a sessionless query
	Query        string
	LanguageCode string
	PageSize     int
}

// SessionInfo is the session reference resolved by a search call and
// consumed by the answer call.
type SessionInfo struct {
	Name    string `json:"name"`
	QueryID string `json:"queryId"`
}

// Search issues the query against the engine's default serving config and
// returns the session info used to generate an answer for it.
func (c *Client) Search(ctx context.Context, opts QueryOptions) (*SessionInfo, error) {
	body := map[string]any{
		"session":            SessionName(c.cfg.ProjectID, opts.EngineID, opts.SessionID),
		"query":              opts.Query,
		"pageSize":           opts.PageSize,
		"languageCode":       opts.LanguageCode,
		"queryExpansionSpec": map[string]any{"condition": "AUTO"},
		"spellCorrectionSpec": map[string]any{
			"mode": "AUTO",
		},
		"contentSearchSpec": map[string]any{
			"extractiveContentSpec": map[string]any{"maxExtractiveAnswerCount": 1},
		},
	}

	raw, err := c.doJSON(ctx, http.MethodPost, c.engineURL(opts.EngineID, "/servingConfigs/default_search:search"), body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		SessionInfo SessionInfo `json:"sessionInfo"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &parsed.SessionInfo, nil
}

// answerRequest is the wire shape of a streamed answer request.
type answerRequest struct {
	Session string `json:"session"`
	Query   struct {
		Text    string `json:"text"`
		QueryID string `json:"queryId"`
	} `json:"query"`
	AnswerGenerationSpec answerGenerationSpec `json:"answerGenerationSpec"`
}

type answerGenerationSpec struct {
	IgnoreAdversarialQuery      bool `json:"ignoreAdversarialQuery"`
	IgnoreNonAnswerSeekingQuery bool `json:"ignoreNonAnswerSeekingQuery"`
	IgnoreLowRelevantContent    bool `json:"ignoreLowRelevantContent"`
	IncludeCitations            bool `json:"includeCitations"`
	ModelSpec                   struct {
		ModelVersion string `json:"modelVersion"`
	} `json:"modelSpec"`
	PromptSpec struct {
		Preamble string `json:"preamble"`
	} `json:"promptSpec"`
}

// StreamAnswer opens the element-streamed answer response for the query.
// The caller owns the returned body and must close it; it is intended to be
// fed directly into a stream.Decoder.
func (c *Client) StreamAnswer(ctx context.Context, engineID string, session SessionInfo, query string) (io.ReadCloser, error) {
	var reqBody answerRequest
	reqBody.Session = session.Name
	reqBody.Query.Text = query
	reqBody.Query.QueryID = session.QueryID
	reqBody.AnswerGenerationSpec = answerGenerationSpec{
		IgnoreAdversarialQuery:      true,
		IgnoreNonAnswerSeekingQuery: true,
		IgnoreLowRelevantContent:    true,
		IncludeCitations:            true,
	}
	reqBody.AnswerGenerationSpec.ModelSpec.ModelVersion = c.cfg.ModelVersion
	reqBody.AnswerGenerationSpec.PromptSpec.Preamble = c.cfg.Preamble

	resp, err := c.do(ctx, http.MethodPost, c.engineURL(engineID, "/servingConfigs/default_search:streamAnswer"), reqBody)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// SessionSummary is one entry of a session listing.
type SessionSummary struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// CreateSession creates a named session under the engine.
func (c *Client) CreateSession(ctx context.Context, engineID, displayName string) (json.RawMessage, error) {
	body := map[string]any{"displayName": displayName}
	return c.doJSON(ctx, http.MethodPost, c.engineURL(engineID, "/sessions"), body)
}

// ListSessions lists the engine's sessions with their ids derived from the
// fully-qualified resource names.
func (c *Client) ListSessions(ctx context.Context, engineID string) ([]SessionSummary, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, c.engineURL(engineID, "/sessions"), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Sessions []struct {
			Name      string `json:"name"`
			StartTime string `json:"startTime"`
			EndTime   string `json:"endTime"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding session list: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(parsed.Sessions))
	for _, s := range parsed.Sessions {
		summaries = append(summaries, SessionSummary{
			ID:    stream.SessionIDFromName(s.Name),
			Start: s.StartTime,
			End:   s.EndTime,
		})
	}
	return summaries, nil
}

// DeleteSession deletes a single session by id.
func (c *Client) DeleteSession(ctx context.Context, engineID, sessionID string) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodDelete, c.engineURL(engineID, "/sessions/"+sessionID), nil)
}

// DeleteAllSessions lists and deletes every session of the engine in
// parallel. The first deletion error is returned after all attempts finish.
func (c *Client) DeleteAllSessions(ctx context.Context, engineID string) error {
	sessions, err := c.ListSessions(ctx, engineID)
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, s := range sessions {
		wg.Go(func() {
			if _, err := c.DeleteSession(ctx, engineID, s.ID); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return firstErr
}

// do issues an authenticated request and returns the response on success.
// Non-2xx responses are drained into a StatusError.
func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling provider: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		statusErr := httperr.FromResponse(resp)
		c.logger.Warn("provider call failed", "url", url, "status", statusErr.Code)
		return nil, statusErr
	}
	return resp, nil
}

// doJSON runs do and reads the full response body.
func (c *Client) doJSON(ctx context.Context, method, url string, body any) (json.RawMessage, error) {
	resp, err := c.do(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}
	return raw, nil
}
