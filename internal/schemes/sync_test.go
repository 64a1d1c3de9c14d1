// ABOUTME: Tests for the gated hierarchy syncer.
// ABOUTME: Covers gate saturation, read fail-fast, and upload error swallowing.

package schemes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemeworks/scheme-gateway/internal/gate"
	"github.com/schemeworks/scheme-gateway/internal/metrics"
)

// fakeUploader records uploads and can fail selected document ids.
type fakeUploader struct {
	mu      sync.Mutex
	uploads map[string]json.RawMessage
	failIDs map[string]bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		uploads: make(map[string]json.RawMessage),
		failIDs: make(map[string]bool),
	}
}

func (f *fakeUploader) Upload(_ context.Context, _, documentID string, structData json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failIDs[documentID] {
		return nil, errors.New("upload rejected")
	}
	f.uploads[documentID] = structData
	return json.RawMessage(`{}`), nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// syncFixture runs a registry server with n schemes and tracks how many
// detail requests are in flight at once.
type syncFixture struct {
	syncer  *Syncer
	uploads *fakeUploader
	current atomic.Int64
	peak    atomic.Int64
	failID  string
}

func newSyncFixture(t *testing.T, n, capacity int) *syncFixture {
	t.Helper()
	fx := &syncFixture{uploads: newFakeUploader()}

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		schemes := make([]map[string]string, 0, n)
		for i := range n {
			schemes = append(schemes, map[string]string{"guid": fmt.Sprintf("g-%d", i)})
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"schemes": schemes}))
	})
	mux.HandleFunc("/details", func(w http.ResponseWriter, r *http.Request) {
		cur := fx.current.Add(1)
		defer fx.current.Add(-1)
		for {
			old := fx.peak.Load()
			if cur <= old || fx.peak.CompareAndSwap(old, cur) {
				break
			}
		}

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if fx.failID != "" && body["schemeId"] == fx.failID {
			http.Error(w, "detail unavailable", http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"guid":%q,"detail":true}`, body["schemeId"])
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		ListURL:    srv.URL + "/list",
		DetailsURL: srv.URL + "/details",
	}, nil)
	fx.syncer = NewSyncer(client, fx.uploads, gate.New(capacity), metrics.New(), nil)
	return fx
}

func TestListHierarchyRespectsGateCapacity(t *testing.T) {
	const capacity = 4
	fx := newSyncFixture(t, 60, capacity)

	details, err := fx.syncer.ListHierarchy(t.Context(), "Bearer tok", "en")
	require.NoError(t, err)

	assert.Len(t, details, 60)
	assert.LessOrEqual(t, fx.peak.Load(), int64(capacity))
	assert.Positive(t, fx.peak.Load())
}

func TestListHierarchyFailsFast(t *testing.T) {
	fx := newSyncFixture(t, 30, 4)
	fx.failID = "g-17"

	_, err := fx.syncer.ListHierarchy(t.Context(), "Bearer tok", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detail unavailable")
}

func TestUploadHierarchyUploadsEachDetail(t *testing.T) {
	fx := newSyncFixture(t, 12, 4)

	details, err := fx.syncer.UploadHierarchy(t.Context(), "Bearer tok", "en", "ds-1")
	require.NoError(t, err)

	assert.Len(t, details, 12)
	assert.Equal(t, 12, fx.uploads.count())
	assert.JSONEq(t, `{"guid":"g-3","detail":true}`, string(fx.uploads.uploads["g-3"]))
}

func TestUploadHierarchySwallowsUploadFailures(t *testing.T) {
	fx := newSyncFixture(t, 10, 4)
	fx.uploads.failIDs["g-2"] = true
	fx.uploads.failIDs["g-7"] = true

	details, err := fx.syncer.UploadHierarchy(t.Context(), "Bearer tok", "en", "ds-1")
	require.NoError(t, err)

	// failed uploads are skipped but the details still come back
	assert.Len(t, details, 10)
	assert.Equal(t, 8, fx.uploads.count())
}

func TestUploadHierarchyDetailFailureIsFatal(t *testing.T) {
	fx := newSyncFixture(t, 20, 4)
	fx.failID = "g-5"

	_, err := fx.syncer.UploadHierarchy(t.Context(), "Bearer tok", "en", "ds-1")
	require.Error(t, err)
}

func TestListHierarchyHonorsCancellation(t *testing.T) {
	fx := newSyncFixture(t, 20, 2)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := fx.syncer.ListHierarchy(ctx, "Bearer tok", "en")
	require.Error(t, err)
}

func TestUploadListUploadsRawListing(t *testing.T) {
	fx := newSyncFixture(t, 3, 4)

	_, err := fx.syncer.UploadList(t.Context(), "Bearer tok", "en", "ds-1", "all-schemes")
	require.NoError(t, err)

	raw, ok := fx.uploads.uploads["all-schemes"]
	require.True(t, ok)
	assert.Contains(t, string(raw), `"g-0"`)
}
