// ABOUTME: Client for uploading structured documents into a search datastore.
// ABOUTME: Wraps the document upload endpoint with the gateway's error mapping.

package datastore

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

// Config holds the upload endpoint settings.
type Config struct {
	UploadBaseURL string        // origin plus path prefix, no trailing slash
	Timeout       time.Duration
}

// Client uploads documents keyed by datastore and document id.
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
		logger: logger.With("component", "datastore"),
	}
}

// uploadResponse is the wire shape of a successful upload.
type uploadResponse struct {
	Results json.RawMessage `json:"results"`
}

// Upload stores structData as the given document and returns the upstream
// results payload.
func (c *Client) Upload(ctx context.Context, datastoreID, documentID string, structData json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]json.RawMessage{"structData": structData})
	if err != nil {
		return nil, fmt.Errorf("encoding upload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/documents/%s/upload", c.cfg.UploadBaseURL, datastoreID, documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := httperr.FromResponse(resp)
		c.logger.Warn("document upload failed",
			"datastore", datastoreID, "document", documentID, "status", statusErr.Code)
		return nil, statusErr
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upload response: %w", err)
	}
	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	return parsed.Results, nil
}
