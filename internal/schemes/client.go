// ABOUTME: Client for the government scheme registry API.
// ABOUTME: Handles token generation, scheme listing, and per-scheme detail lookups.

package schemes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/schemeworks/scheme-gateway/internal/httperr"
)

// Config holds the registry endpoints and the credentials used to mint
// bearer tokens for them.
type Config struct {
	TokenURL   string
	ListURL    string
	DetailsURL string

	APIKey    string
	SecretKey string
	StateCode string

	Timeout time.Duration
}

// Client talks to the scheme registry. List and Details forward the
// caller's bearer token rather than minting their own, so a single token
// generated up front covers a whole sync run.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "schemes"),
	}
}

// GenerateToken exchanges the configured credentials for a bearer token.
// The registry's response is returned opaque.
func (c *Client) GenerateToken(ctx context.Context) (json.RawMessage, error) {
	body := map[string]string{
		"api_key":    c.cfg.APIKey,
		"secret_key": c.cfg.SecretKey,
		"state_code": c.cfg.StateCode,
	}
	return c.post(ctx, c.cfg.TokenURL, "", body)
}

// List is the registry's scheme listing with the guids pulled out for
// fan-out, alongside the untouched payload.
type List struct {
	Raw   json.RawMessage
	GUIDs []string
}

// ListSchemes fetches every scheme available in the given language.
func (c *Client) ListSchemes(ctx context.Context, token, language string) (*List, error) {
	raw, err := c.post(ctx, c.cfg.ListURL, token, map[string]string{"lang": language})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Schemes []struct {
			GUID string `json:"guid"`
		} `json:"schemes"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding scheme list: %w", err)
	}

	guids := make([]string, 0, len(parsed.Schemes))
	for _, s := range parsed.Schemes {
		guids = append(guids, s.GUID)
	}
	return &List{Raw: raw, GUIDs: guids}, nil
}

// Details fetches the full record of one scheme. The payload is opaque to
// the gateway and passed through to callers and uploads unchanged.
func (c *Client) Details(ctx context.Context, token, language, schemeID string) (json.RawMessage, error) {
	body := map[string]string{
		"lang":     language,
		"schemeId": schemeID,
	}
	return c.post(ctx, c.cfg.DetailsURL, token, body)
}

func (c *Client) post(ctx context.Context, url, token string, body any) (json.RawMessage, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := httperr.FromResponse(resp)
		c.logger.Warn("registry call failed", "url", url, "status", statusErr.Code)
		return nil, statusErr
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading registry response: %w", err)
	}
	return raw, nil
}
