// ABOUTME: Store interface and data types for gateway audit persistence.
// ABOUTME: Defines Exchange and SyncRun records and the Store interface.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Exchange is the audit record of one answer exchange: the upstream session
// it ran under, how many partial chunks were relayed, and how it ended.
type Exchange struct {
	ID        string
	SessionID string
	Query     string
	Outcome   string
	Chunks    int
	Duration  time.Duration
	CreatedAt time.Time
}

// SyncRun kinds.
const (
	SyncKindList   = "list"
	SyncKindUpload = "upload"
)

// SyncRun is the audit record of one hierarchy sync over the scheme
// registry.
type SyncRun struct {
	ID          string
	Kind        string // "list" or "upload"
	Language    string
	DatastoreID string // empty for read-only runs
	Items       int
	Duration    time.Duration
	CreatedAt   time.Time
}

// Store persists gateway audit records.
type Store interface {
	RecordExchange(ctx context.Context, exchange *Exchange) error
	GetExchange(ctx context.Context, id string) (*Exchange, error)
	ListExchanges(ctx context.Context, limit int) ([]*Exchange, error)

	RecordSyncRun(ctx context.Context, run *SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error)

	Close() error
}
