package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-authgate/api-client/refresh"
)

var (
	// ErrAuthenticationExpired matches a 401 that reached the caller: either
	// the call was not eligible for refresh, or the replay after a refresh was
	// rejected again.
	ErrAuthenticationExpired = errors.New("authentication expired")

	// ErrSessionTerminated means refresh failed terminally; credentials were
	// cleared and SessionExpired was published.
	ErrSessionTerminated = refresh.ErrSessionTerminated
)

// TransportError is a network failure or timeout. It is never retried by the
// refresh path.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response. Message is the server-provided message.
type ServerError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// Is makes a 401 ServerError match ErrAuthenticationExpired.
func (e *ServerError) Is(target error) bool {
	return target == ErrAuthenticationExpired && e.Status == http.StatusUnauthorized
}

// MalformedResponseError means a 2xx body could not be decoded.
type MalformedResponseError struct {
	Status int
	Err    error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response (status %d): %v", e.Status, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// errorBody covers the two error shapes seen from the backend: an application
// {"message": ...} and an OAuth-style {"error", "error_description"}.
type errorBody struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// serverMessage extracts the message to surface for a non-2xx response.
func serverMessage(status int, body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		switch {
		case eb.Message != "":
			return eb.Message
		case eb.Error != "" && eb.ErrorDescription != "":
			return eb.Error + ": " + eb.ErrorDescription
		case eb.Error != "":
			return eb.Error
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}

func newServerError(status int, body []byte) *ServerError {
	return &ServerError{
		Status:  status,
		Message: serverMessage(status, body),
		Body:    body,
	}
}
