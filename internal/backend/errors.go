package backend

import (
	"errors"
	"fmt"
)

// ErrUnconfigured is returned by every remote call when the backend URL
// or public API key is missing. The process stays up in this state and
// surfaces the error per request instead of crashing at startup.
var ErrUnconfigured = errors.New("backend is not configured: set backend url and api key")

// AuthError is a failure reported by the authentication API: invalid
// credentials, an unverified account, or a transport failure during an
// auth call.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("auth: %s", e.Message)
	}
	return fmt.Sprintf("auth: %s (status %d)", e.Message, e.Status)
}

// BackendError is a failure reported by the record API. Authorization
// denials are not distinguished from other failures beyond the message
// text; the backend's row-level rules decide what a principal may do.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %s (code %s, status %d)", e.Message, e.Code, e.Status)
	}
	if e.Status == 0 {
		return fmt.Sprintf("backend: %s", e.Message)
	}
	return fmt.Sprintf("backend: %s (status %d)", e.Message, e.Status)
}
