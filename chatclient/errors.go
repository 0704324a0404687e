package chatclient

import (
	"fmt"
	"net/http"
)

// ValidationError reports input rejected before any request was made
// (empty fields, mismatched or too-short passwords).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// AuthError reports a non-2xx response from an auth endpoint. The session
// stays logged out; nothing else is torn down.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed (%d): %s", e.Status, e.Message)
}

// ServerError reports a non-2xx response from any non-auth endpoint.
// Message carries the server's error body when it parsed, or the HTTP
// status text when it did not.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

// NetworkError wraps a transport failure on an HTTP call or the realtime
// channel.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// statusMessage falls back to the generic status text when the error body
// carried no usable message.
func statusMessage(status int, message string) string {
	if message != "" {
		return message
	}
	return http.StatusText(status)
}
