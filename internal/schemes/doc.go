// Package schemes talks to the government scheme registry and syncs its
// hierarchy into a search datastore.
//
// Client wraps the registry's token, list, and details endpoints; the
// registry token is passed through verbatim from the caller. Syncer
// fans detail fetches out across every listed scheme, bounded by a
// concurrency gate. Detail fetch failures abort the whole run; upload
// failures are logged and skipped so one bad document does not sink the
// rest of the sync.
package schemes
