package nomad

import (
	"fmt"
	"strings"
)

// APIError is a non-2xx response from the Nomad API. Body carries the
// server's message verbatim so callers can surface it unchanged.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return msg
}
