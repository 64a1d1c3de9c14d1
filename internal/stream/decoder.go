// ABOUTME: Incremental decoder for element-streamed JSON answer arrays.
// ABOUTME: Yields partial and terminal chunks without buffering the whole response.

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// State classifies a decoded element by its answer lifecycle state.
type State string

const (
	StateStreaming State = "STREAMING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// ErrNoTerminalChunk is returned when the upstream array ends without a
// terminal element, leaving the exchange with no answer to return.
var ErrNoTerminalChunk = errors.New("answer stream ended without a terminal chunk")

// Chunk is one decoded unit from the answer stream. PartialText is set only
// for StateStreaming; Answer only for StateSucceeded.
type Chunk struct {
	State       State
	PartialText string
	Answer      *Answer
}

// Terminal reports whether no further chunks follow this one.
func (c *Chunk) Terminal() bool {
	return c.State == StateSucceeded || c.State == StateFailed
}

// Answer is the structured payload carried by the terminal chunk.
type Answer struct {
	Text       string            `json:"answerText"`
	Citations  []json.RawMessage `json:"citations"`
	References []json.RawMessage `json:"references"`
	SessionID  string            `json:"sessionId"`
}

// element mirrors the upstream wire shape of one array member.
type element struct {
	Answer struct {
		State      string            `json:"state"`
		AnswerText string            `json:"answerText"`
		Citations  []json.RawMessage `json:"citations"`
		References []json.RawMessage `json:"references"`
	} `json:"answer"`
	Session struct {
		Name string `json:"name"`
	} `json:"session"`
}

// Decoder incrementally parses a JSON array of answer elements as its bytes
// arrive, yielding each element as soon as it is complete. Elements in
// unrecognized states, and STREAMING elements with no text, are skipped
// rather than treated as errors: the upstream adds states over time and the
// relay only forwards the ones it understands.
type Decoder struct {
	dec     *json.Decoder
	started bool
	done    bool
}

// NewDecoder wraps r, which must deliver a JSON array of answer elements.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Next returns the next emitted chunk. After the terminal chunk has been
// returned, Next reports io.EOF without reading any further input. A
// malformed payload or transport failure surfaces as a non-EOF error.
func (d *Decoder) Next() (*Chunk, error) {
	if d.done {
		return nil, io.EOF
	}

	if !d.started {
		if err := d.expectDelim('['); err != nil {
			return nil, err
		}
		d.started = true
	}

	for d.dec.More() {
		var el element
		if err := d.dec.Decode(&el); err != nil {
			return nil, fmt.Errorf("decoding answer element: %w", err)
		}

		switch State(el.Answer.State) {
		case StateStreaming:
			if el.Answer.AnswerText == "" {
				continue
			}
			return &Chunk{State: StateStreaming, PartialText: el.Answer.AnswerText}, nil

		case StateSucceeded:
			d.done = true
			return &Chunk{
				State: StateSucceeded,
				Answer: &Answer{
					Text:       el.Answer.AnswerText,
					Citations:  el.Answer.Citations,
					References: el.Answer.References,
					SessionID:  SessionIDFromName(el.Session.Name),
				},
			}, nil

		case StateFailed:
			d.done = true
			return &Chunk{State: StateFailed}, nil

		default:
			// Unknown state, skip.
			continue
		}
	}

	d.done = true
	return nil, ErrNoTerminalChunk
}

// expectDelim consumes one token and verifies it is the given delimiter.
func (d *Decoder) expectDelim(want json.Delim) error {
	tok, err := d.dec.Token()
	if err != nil {
		return fmt.Errorf("reading answer stream: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != want {
		return fmt.Errorf("answer stream: expected %q, got %v", want, tok)
	}
	return nil
}

// SessionIDFromName derives the opaque session id from a fully-qualified
// resource name by taking the suffix after the last slash. Names without a
// slash are returned unchanged.
func SessionIDFromName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
