package poscore

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
)

// statusValidator rejects non-2xx responses with a StatusError carrying the
// response body. Installed in place of the requests default validator so the
// payload survives into the returned error.
func statusValidator(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(res.Body)
	return &StatusError{StatusCode: res.StatusCode, Body: string(body)}
}

// StatusError is returned for any non-2xx response. Body carries the raw
// response payload so failures can be diagnosed without verbose logging.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if msg := gjson.Get(e.Body, "message"); msg.Exists() && msg.String() != "" {
		return fmt.Sprintf("poscore: api returned %d: %s", e.StatusCode, msg.String())
	}
	return fmt.Sprintf("poscore: api returned %d", e.StatusCode)
}

// Detail returns the error body parsed as JSON for ad hoc inspection.
func (e *StatusError) Detail() gjson.Result {
	return gjson.Parse(e.Body)
}

// AuthError is returned when the API rejects the configured username and
// password, or when a request still fails with 401 after a token refresh.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("poscore: authentication failed for user %q: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError is returned when a requested resource does not exist,
// distinct from other HTTP failures.
type NotFoundError struct {
	Resource string
	Status   *StatusError
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("poscore: %s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error { return e.Status }

// IsNetworkError reports whether err was caused by the transport (connection
// refused, timeout, DNS failure) rather than by an HTTP status or a decode
// failure. Network errors are never retried by the client.
func IsNetworkError(err error) bool {
	return errors.Is(err, requests.ErrTransport)
}

// hasStatus reports whether err carries a StatusError with the given code.
func hasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// statusOf extracts the StatusError from err, or nil.
func statusOf(err error) *StatusError {
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
