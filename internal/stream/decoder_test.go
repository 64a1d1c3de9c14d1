// ABOUTME: Tests for the incremental answer stream decoder.
// ABOUTME: Covers emission order, filtering, terminal handling, and failures.

package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowReader delivers its payload a few bytes at a time so tests exercise
// the element-by-element parse rather than a single full read.
type slowReader struct {
	data []byte
	pos  int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := 3
	if remaining := len(r.data) - r.pos; remaining < n {
		n = remaining
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func streamingElem(text string) string {
	return `{"answer":{"state":"STREAMING","answerText":"` + text + `"}}`
}

func succeededElem(text, sessionName string) string {
	return `{"answer":{"state":"SUCCEEDED","answerText":"` + text + `",` +
		`"citations":[{"startIndex":"0"}],"references":[{"title":"ref"}]},` +
		`"session":{"name":"` + sessionName + `"}}`
}

func TestDecoder_PartialsThenTerminal(t *testing.T) {
	payload := "[" + streamingElem("a") + "," + streamingElem("b") + "," +
		succeededElem("ab", "projects/p/sessions/abc123") + "]"
	d := NewDecoder(&slowReader{data: []byte(payload)})

	c1, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, c1.State)
	assert.Equal(t, "a", c1.PartialText)
	assert.False(t, c1.Terminal())

	c2, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", c2.PartialText)

	c3, err := d.Next()
	require.NoError(t, err)
	assert.True(t, c3.Terminal())
	require.NotNil(t, c3.Answer)
	assert.Equal(t, "ab", c3.Answer.Text)
	assert.Equal(t, "abc123", c3.Answer.SessionID)
	assert.Len(t, c3.Answer.Citations, 1)
	assert.Len(t, c3.Answer.References, 1)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_EmptyPartialIsFiltered(t *testing.T) {
	payload := "[" + streamingElem("") + "," + succeededElem("x", "engines/e/sessions/s1") + "]"
	d := NewDecoder(strings.NewReader(payload))

	c, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, c.State, "empty-text STREAMING chunk must not be emitted")
	assert.Equal(t, "x", c.Answer.Text)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_NothingEmittedAfterTerminalEvenWithTrailingInput(t *testing.T) {
	payload := "[" + succeededElem("done", "s/1") + "," + streamingElem("late") + "]"
	d := NewDecoder(strings.NewReader(payload))

	c, err := d.Next()
	require.NoError(t, err)
	assert.True(t, c.Terminal())

	for range 3 {
		_, err = d.Next()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestDecoder_UnknownStatesAreSkipped(t *testing.T) {
	payload := `[{"answer":{"state":"IN_PROGRESS","answerText":"ignored"}},` +
		streamingElem("kept") + "," + succeededElem("kept.", "x/sess") + "]"
	d := NewDecoder(strings.NewReader(payload))

	c, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "kept", c.PartialText)

	c, err = d.Next()
	require.NoError(t, err)
	assert.True(t, c.Terminal())
}

func TestDecoder_FailedStateIsTerminal(t *testing.T) {
	payload := "[" + streamingElem("a") + "," +
		`{"answer":{"state":"FAILED"}},` + streamingElem("late") + "]"
	d := NewDecoder(strings.NewReader(payload))

	c, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", c.PartialText)

	c, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, StateFailed, c.State)
	assert.True(t, c.Terminal())
	assert.Nil(t, c.Answer)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF, "no chunk may follow the terminal one")
}

func TestDecoder_StreamWithoutTerminal(t *testing.T) {
	payload := "[" + streamingElem("a") + "]"
	d := NewDecoder(strings.NewReader(payload))

	_, err := d.Next()
	require.NoError(t, err)

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrNoTerminalChunk)
}

func TestDecoder_MalformedPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not an array", `{"answer":{}}`},
		{"truncated element", `[{"answer":{"state":"STRE`},
		{"garbage", `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(strings.NewReader(tt.payload))
			_, err := d.Next()
			assert.Error(t, err)
			assert.NotErrorIs(t, err, io.EOF)
		})
	}
}

func TestSessionIDFromName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fully qualified", "projects/p/locations/global/collections/c/engines/e/sessions/abc123", "abc123"},
		{"short path", "sessions/xyz", "xyz"},
		{"no slash", "bare", "bare"},
		{"trailing slash", "sessions/", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionIDFromName(tt.in))
		})
	}
}
