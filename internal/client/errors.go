package client

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when a 200 response does not carry the
// fields the operation needs.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned for any non-200 response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, body)
}

// AsStatusError unwraps err into a *StatusError if it holds one.
func AsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}

func malformed(op, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w: %s", op, ErrMalformedResponse, fmt.Sprintf(format, args...))
}
