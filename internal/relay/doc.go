// Package relay runs one answer exchange end to end.
//
// # Flow
//
// Answer moves through four phases: search for session info, stream the
// answer, relay each partial chunk to the room keyed by the session id,
// and return the terminal answer synchronously to the caller. The HTTP
// response and the room stream serve different audiences: the caller
// gets the final answer, room subscribers watch it being written.
//
// Failures map to distinct outcomes (auth_failed, search_failed,
// stream_failed, decode_failed, truncated, failed) which feed both the
// metrics counters and the audit Recorder.
package relay
