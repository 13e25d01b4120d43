package apiclient

import (
	"net/http"
	"time"

	"golang.org/x/text/language"

	"github.com/go-authgate/api-client/logging"
)

// Option configures an Executor or Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	maxRetries int
	logger     logging.Logger
	locale     language.Tag
	userAgent  string
	timeout    time.Duration
}

func defaultOptions() *options {
	return &options{
		httpClient: NewHTTPClient(),
		logger:     logging.Nop(),
		locale:     language.English,
		userAgent:  "authgate-api-client",
		timeout:    DefaultRequestTimeout,
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithMaxRetries enables transport-level retries of transient failures
// (5xx, 429, network errors). Default: 0. Independent of the 401 replay.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = max(n, 0)
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLocale sets the Accept-Language tag. Default: en.
func WithLocale(tag language.Tag) Option {
	return func(o *options) {
		o.locale = tag
	}
}

// WithUserAgent sets the User-Agent header. An empty value leaves Go's default.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithTimeout sets the default per-request timeout. Default: DefaultRequestTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}
