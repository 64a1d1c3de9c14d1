// Package stream decodes the provider's element-streamed JSON answer
// arrays incrementally.
//
// The provider returns one JSON array whose elements arrive over time.
// Decoder.Next yields each element as a Chunk without waiting for the
// array to close, skipping partials that carry no text. Chunks in the
// SUCCEEDED or FAILED state are terminal; decoding stops after the
// first one. An array that closes without a terminal chunk yields
// ErrNoTerminalChunk.
package stream
