// Package auth supplies bearer credentials for outbound provider calls.
//
// TokenSource is the contract; GoogleSource implements it over
// Application Default Credentials, CachingSource wraps any source with
// expiry-aware caching, and Static serves tests. Authentication
// failures wrap ErrAuthentication so callers can classify them.
package auth
