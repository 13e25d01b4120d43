package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/go-authgate/api-client/credstore"
	"github.com/go-authgate/api-client/logging"
)

// DefaultRequestTimeout bounds one application call, replay included separately.
const DefaultRequestTimeout = 10 * time.Second

// Refresher yields a fresh access credential after stale was rejected.
// *refresh.Coordinator implements it.
type Refresher interface {
	Refresh(ctx context.Context, stale string) (string, error)
}

// Executor issues calls with the current access credential and repairs a
// stale one at most once per call.
type Executor struct {
	baseURL   string
	store     credstore.Store
	refresher Refresher
	client    *retry.Client
	logger    logging.Logger
	locale    language.Tag
	userAgent string
	timeout   time.Duration
}

// NewExecutor validates baseURL and builds an Executor.
func NewExecutor(
	baseURL string,
	store credstore.Store,
	refresher Refresher,
	opts ...Option,
) (*Executor, error) {
	if err := ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	client, err := retry.NewClient(
		retry.WithHTTPClient(o.httpClient),
		retry.WithMaxRetries(o.maxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	return &Executor{
		baseURL:   strings.TrimRight(baseURL, "/"),
		store:     store,
		refresher: refresher,
		client:    client,
		logger:    o.logger,
		locale:    o.locale,
		userAgent: o.userAgent,
		timeout:   o.timeout,
	}, nil
}

// ValidateBaseURL requires an http or https URL with a host.
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// Execute performs req. A 401 on a call that carried a credential triggers one
// refresh and exactly one replay; the replay's outcome is final.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	req.Header = req.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}

	res, attached, err := e.attempt(ctx, req, "")
	if err != nil {
		return nil, err
	}

	if res.Status != http.StatusUnauthorized || req.NoRetry || attached == "" {
		return finish(res)
	}

	e.logger.Info(ctx, "access credential rejected, refreshing",
		"method", req.Method, "path", req.Path, "request_id", req.Header.Get(HeaderRequestID))

	access, err := e.refresher.Refresh(ctx, attached)
	if err != nil {
		if errors.Is(err, ErrSessionTerminated) {
			return nil, err
		}
		return nil, fmt.Errorf("waiting for credential refresh: %w", err)
	}

	replayed, _, err := e.attempt(ctx, req, access)
	if err != nil {
		return nil, err
	}
	return finish(replayed)
}

// attempt sends req once. An empty credential means "read the store". It
// returns the raw outcome and the credential that was attached, if any.
func (e *Executor) attempt(ctx context.Context, req Request, credential string) (*Response, string, error) {
	if credential == "" {
		stored, err := e.store.Get(ctx, credstore.Access)
		if err != nil {
			e.logger.Warn(ctx, "failed to read access credential, sending unauthenticated", "error", err)
		}
		credential = stored
	}

	timeout := e.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := e.baseURL + "/" + strings.TrimLeft(req.Path, "/")

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, target, body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderAcceptLanguage, e.locale.String())
	if e.userAgent != "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		httpReq.Header.Set(HeaderAuthorization, "Bearer "+credential)
	}

	resp, err := e.client.DoWithContext(reqCtx, httpReq)
	if err != nil {
		if ctxErr := reqCtx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, credential, &TransportError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, credential, &TransportError{Method: req.Method, URL: target, Err: err}
	}

	if rotated := resp.Header.Get(HeaderNewAccessToken); rotated != "" {
		if err := e.store.Set(ctx, credstore.Access, rotated); err != nil {
			e.logger.Error(ctx, "failed to store rotated access credential", "error", err)
		} else {
			e.logger.Debug(ctx, "access credential rotated by server", "access", logging.Redact(rotated))
		}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, credential, nil
}

// finish maps a raw outcome to the caller-facing result.
func finish(res *Response) (*Response, error) {
	if res.Status < 200 || res.Status > 299 {
		return nil, newServerError(res.Status, res.Body)
	}
	return res, nil
}

// NewHTTPClient returns an HTTP client with TLS 1.2 or newer and pooled
// connections. It is the default transport of an Executor; share it with the
// refresher so both use one connection pool.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
