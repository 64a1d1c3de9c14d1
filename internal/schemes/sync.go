// ABOUTME: Gated fan-out over the scheme registry for hierarchy reads and uploads.
// ABOUTME: Read runs fail fast; upload runs swallow per-document upload errors.

package schemes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/schemeworks/scheme-gateway/internal/gate"
	"github.com/schemeworks/scheme-gateway/internal/metrics"
)

// registry is the slice of Client the syncer needs.
type registry interface {
	ListSchemes(ctx context.Context, token, language string) (*List, error)
	Details(ctx context.Context, token, language, schemeID string) (json.RawMessage, error)
}

// Uploader stores a structured document in a datastore.
type Uploader interface {
	Upload(ctx context.Context, datastoreID, documentID string, structData json.RawMessage) (json.RawMessage, error)
}

// Syncer fans detail lookups out across the registry, bounded by a shared
// concurrency gate so a large scheme list cannot stampede the upstream.
type Syncer struct {
	registry registry
	uploads  Uploader
	gate     *gate.Gate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewSyncer(client *Client, uploads Uploader, g *gate.Gate, m *metrics.Metrics, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		registry: client,
		uploads:  uploads,
		gate:     g,
		metrics:  m,
		logger:   logger.With("component", "sync"),
	}
}

// ListHierarchy fetches the details of every listed scheme. Any lookup
// failure cancels the remaining lookups and fails the whole run. Results
// arrive in completion order, not list order.
func (s *Syncer) ListHierarchy(ctx context.Context, token, language string) ([]json.RawMessage, error) {
	list, err := s.registry.ListSchemes(ctx, token, language)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		details  []json.RawMessage
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for _, guid := range list.GUIDs {
		wg.Go(func() {
			detail, err := s.fetchDetail(runCtx, token, language, guid)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					fail(err)
				}
				return
			}
			mu.Lock()
			details = append(details, detail)
			mu.Unlock()
		})
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

// UploadHierarchy fetches every scheme's details and uploads each one as a
// datastore document keyed by its guid. Detail lookups fail fast like
// ListHierarchy; upload failures are logged and skipped so one bad document
// does not sink the run. The fetched details are returned either way.
func (s *Syncer) UploadHierarchy(ctx context.Context, token, language, datastoreID string) ([]json.RawMessage, error) {
	list, err := s.registry.ListSchemes(ctx, token, language)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		details  []json.RawMessage
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for _, guid := range list.GUIDs {
		wg.Go(func() {
			detail, err := s.fetchDetail(runCtx, token, language, guid)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					fail(err)
				}
				return
			}

			if _, err := s.uploads.Upload(runCtx, datastoreID, guid, detail); err != nil {
				s.metrics.SyncItemsFailed.Inc()
				s.logger.Warn("scheme upload skipped", "scheme", guid, "error", err)
			} else {
				s.metrics.SyncItemsUploaded.Inc()
			}

			mu.Lock()
			details = append(details, detail)
			mu.Unlock()
		})
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

// UploadList uploads the flat scheme listing as a single document.
func (s *Syncer) UploadList(ctx context.Context, token, language, datastoreID, documentID string) (json.RawMessage, error) {
	list, err := s.registry.ListSchemes(ctx, token, language)
	if err != nil {
		return nil, err
	}
	return s.uploads.Upload(ctx, datastoreID, documentID, list.Raw)
}

// fetchDetail performs one gated detail lookup.
func (s *Syncer) fetchDetail(ctx context.Context, token, language, guid string) (json.RawMessage, error) {
	permit, err := s.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	s.metrics.GateInFlight.Inc()
	defer s.metrics.GateInFlight.Dec()

	detail, err := s.registry.Details(ctx, token, language, guid)
	if err != nil {
		return nil, err
	}
	s.metrics.SyncItemsFetched.Inc()
	return detail, nil
}
