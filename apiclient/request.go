package apiclient

import (
	"net/http"
	"time"
)

// Header names used on the wire.
const (
	HeaderAuthorization  = "Authorization"
	HeaderAcceptLanguage = "Accept-Language"
	HeaderRequestID      = "X-Request-ID"
	// HeaderNewAccessToken carries a server-pushed access credential on any response.
	HeaderNewAccessToken = "X-New-Access-Token"
)

// Request describes one logical API call.
type Request struct {
	Method string
	// Path is relative to the client base URL and may carry a query string.
	Path   string
	Body   []byte
	Header http.Header
	// NoRetry disables the refresh-and-replay path for a 401.
	NoRetry bool
	// Timeout overrides the client request timeout when positive.
	Timeout time.Duration
}

// Response is a completed 2xx call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NoContent reports a 204 response.
func (r *Response) NoContent() bool {
	return r.Status == http.StatusNoContent
}

// RequestOption adjusts a single facade call.
type RequestOption func(*Request)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Set(key, value)
	}
}

// WithoutRefresh surfaces a 401 directly instead of refreshing and replaying.
func WithoutRefresh() RequestOption {
	return func(r *Request) {
		r.NoRetry = true
	}
}

// WithRequestTimeout bounds this call only.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(r *Request) {
		r.Timeout = d
	}
}
