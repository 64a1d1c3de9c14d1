// ABOUTME: Status-carrying error type for upstream HTTP failures.
// ABOUTME: Lets the gateway surface the upstream status code to its own callers.

package httperr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBodySnippet bounds how much of an error response body is kept.
const maxBodySnippet = 512

// StatusError is a failed upstream HTTP exchange. Code is the upstream
// status code when one was received.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Message)
}

// FromResponse builds a StatusError from a non-success response, consuming
// up to maxBodySnippet bytes of the body for the message.
func FromResponse(resp *http.Response) *StatusError {
	msg := resp.Status
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
	if err == nil {
		if s := strings.TrimSpace(string(body)); s != "" {
			msg = s
		}
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

// StatusCode extracts the upstream status code from err, or fallback when
// err carries none.
func StatusCode(err error, fallback int) int {
	var se *StatusError
	if errors.As(err, &se) && se.Code >= 100 {
		return se.Code
	}
	return fallback
}
