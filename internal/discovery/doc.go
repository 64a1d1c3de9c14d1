// Package discovery is the HTTP client for the upstream answer
// provider: search, streamed answer generation, and session CRUD.
// Request bodies are explicit DTOs rather than ad hoc maps, and
// non-success responses surface as httperr.StatusError so handlers can
// relay the upstream status.
package discovery
