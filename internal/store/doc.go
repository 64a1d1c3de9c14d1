// Package store provides persistent audit storage for the gateway using SQLite.
//
// # Data Models
//
//   - Exchange: One answer exchange with its outcome, chunk count, and duration
//   - SyncRun: One hierarchy sync run (list or upload) with item count
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// # Error Handling
//
//   - ErrNotFound: Requested entity does not exist
//
// All methods accept context.Context for cancellation support. Use
// NewSQLiteStore with a path under t.TempDir() for tests.
package store
