package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"
)

// Path is the refresh endpoint relative to the API base URL.
const Path = "/auth/refresh"

// ErrMalformedResponse means the refresh endpoint answered 2xx with a body
// that is not a usable token response.
var ErrMalformedResponse = errors.New("malformed refresh response")

// errorResponse is the OAuth-style error body some identity services return.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// HTTPRefresher calls POST {baseURL}/auth/refresh.
type HTTPRefresher struct {
	endpoint string
	client   *retry.Client
}

// NewHTTPRefresher returns a refresher for the service at baseURL. httpClient
// may be nil. The refresh call is never retried at the transport level.
func NewHTTPRefresher(baseURL string, httpClient *http.Client) (*HTTPRefresher, error) {
	opts := []retry.Option{retry.WithMaxRetries(0)}
	if httpClient != nil {
		opts = append(opts, retry.WithHTTPClient(httpClient))
	}

	client, err := retry.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh client: %w", err)
	}

	return &HTTPRefresher{
		endpoint: strings.TrimRight(baseURL, "/") + Path,
		client:   client,
	}, nil
}

// Refresh exchanges refreshToken for a new access credential.
func (h *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retrieveErr := &oauth2.RetrieveError{Response: resp, Body: body}
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil {
			retrieveErr.ErrorCode = errResp.Error
			retrieveErr.ErrorDescription = errResp.ErrorDescription
		}
		return nil, retrieveErr
	}

	var tokenResp refreshResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("%w: access_token is empty", ErrMalformedResponse)
	}
	if tokenResp.TokenType != "" && !strings.EqualFold(tokenResp.TokenType, "Bearer") {
		return nil, fmt.Errorf(
			"%w: unexpected token_type: %s (expected Bearer)",
			ErrMalformedResponse,
			tokenResp.TokenType,
		)
	}

	token := &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    "Bearer",
	}
	if tokenResp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return token, nil
}
