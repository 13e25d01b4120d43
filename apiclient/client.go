package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/go-authgate/api-client/credstore"
)

// ErrNoCredential is returned by the TokenSource when nothing is stored.
var ErrNoCredential = errors.New("no access credential stored")

// Client is the typed facade over Executor. It holds no state of its own.
type Client struct {
	exec  *Executor
	store credstore.Store
}

// New builds a Client for the API at baseURL.
func New(baseURL string, store credstore.Store, refresher Refresher, opts ...Option) (*Client, error) {
	exec, err := NewExecutor(baseURL, store, refresher, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{exec: exec, store: store}, nil
}

// Do executes a prepared request.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	return c.exec.Execute(ctx, req)
}

// Get decodes the JSON response into out. out may be nil.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodGet, path, nil, out, opts)
}

// Post sends in as JSON and decodes the response into out. Both may be nil.
func (c *Client) Post(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPost, path, in, out, opts)
}

func (c *Client) Put(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPut, path, in, out, opts)
}

func (c *Client) Patch(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPatch, path, in, out, opts)
}

func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodDelete, path, nil, out, opts)
}

// call builds the request, executes it and decodes the body. A 204 or an
// empty body leaves out untouched.
func (c *Client) call(
	ctx context.Context,
	method, path string,
	in, out any,
	opts []RequestOption,
) error {
	req := Request{Method: method, Path: path}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = payload
	}
	for _, opt := range opts {
		opt(&req)
	}

	resp, err := c.exec.Execute(ctx, req)
	if err != nil {
		return err
	}

	if out == nil || resp.NoContent() || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &MalformedResponseError{Status: resp.Status, Err: err}
	}
	return nil
}

// TokenSource exposes the stored access credential to libraries that take an
// oauth2.TokenSource. It never triggers a refresh.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: c.store}
}

type storeTokenSource struct {
	ctx   context.Context
	store credstore.Store
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	access, err := s.store.Get(s.ctx, credstore.Access)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNoCredential
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}
