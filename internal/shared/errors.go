package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrAuthentication indicates login failure because of bad credentials.
	ErrAuthentication = errors.New("invalid credentials")
	// ErrInvalidRoleSelection occurs when a role not held by the identity is activated.
	ErrInvalidRoleSelection = errors.New("role not held by current identity")
	// ErrNotLoggedIn occurs when an operation requires an identity and none is present.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrStaleResult indicates a response issued under an older session epoch was dropped.
	ErrStaleResult = errors.New("stale session result discarded")
	// ErrUpstream indicates the backend answered with an unexpected status or payload.
	ErrUpstream = errors.New("unexpected backend response")
)

// AuthorizationError reports a 401 or 403 returned by the backend on an
// authenticated call. It always tears the session down.
type AuthorizationError struct {
	Status int
	Method string
	Path   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %s %s returned %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// NetworkError wraps a transport failure where no response was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsAuthorization reports whether err carries an AuthorizationError.
func IsAuthorization(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}

// IsNetwork reports whether err carries a NetworkError.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
