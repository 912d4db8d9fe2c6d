package services

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/desertthunder/lsync/internal/shared"
)

// bodyLimit caps how much of a response body is carried into an error message.
const bodyLimit = 500

// HTTPError is a non-2xx response from Label Studio.
type HTTPError struct {
	Prefix     string
	StatusCode int
	Body       string
}

// newHTTPError keeps at most [bodyLimit] characters of body.
func newHTTPError(prefix string, status int, body string) *HTTPError {
	return &HTTPError{Prefix: prefix, StatusCode: status, Body: shared.Truncate(body, bodyLimit)}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d - %s", e.Prefix, e.StatusCode, e.Body)
}

// Unwrap lets callers match on [shared.ErrAPIRequest].
func (e *HTTPError) Unwrap() error { return shared.ErrAPIRequest }

// isReadTimeout reports whether err is a timeout that happened after the connection was made.
//
// Dial failures, including dial timeouts, are not read timeouts.
func isReadTimeout(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
