package apiclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/go-authgate/api-client/authevents"
	"github.com/go-authgate/api-client/credstore"
	"github.com/go-authgate/api-client/refresh"
)

// backend is a fake API plus identity service.
type backend struct {
	server *httptest.Server

	mu         sync.Mutex
	validToken string
	seenAuth   []string
	seenIDs    []string

	apiHits     atomic.Int32
	unauthHits  atomic.Int32
	refreshHits atomic.Int32

	// refreshHandler answers POST /auth/refresh.
	refreshHandler http.HandlerFunc
	// apiHandler answers authorized API calls; defaults to {"ok":true}.
	apiHandler http.HandlerFunc
	// rejectHeader is added to every 401 response.
	rejectHeader http.Header
}

func newBackend(t *testing.T, validToken string) *backend {
	t.Helper()

	b := &backend{validToken: validToken}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refresh.Path {
			b.refreshHits.Add(1)
			b.refreshHandler(w, r)
			return
		}

		b.apiHits.Add(1)
		auth := r.Header.Get(HeaderAuthorization)

		b.mu.Lock()
		b.seenAuth = append(b.seenAuth, auth)
		b.seenIDs = append(b.seenIDs, r.Header.Get(HeaderRequestID))
		valid := b.validToken
		b.mu.Unlock()

		if auth != "Bearer "+valid {
			b.unauthHits.Add(1)
			for key, values := range b.rejectHeader {
				for _, v := range values {
					w.Header().Add(key, v)
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"token expired"}`)
			return
		}

		if b.apiHandler != nil {
			b.apiHandler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(b.server.Close)

	b.refreshHandler = func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected refresh call")
		w.WriteHeader(http.StatusInternalServerError)
	}
	return b
}

func (b *backend) authHeaders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seenAuth...)
}

type harness struct {
	client      *Client
	store       *credstore.Memory
	coordinator *refresh.Coordinator
	published   *atomic.Int32
}

func newHarness(t *testing.T, b *backend, access, refreshToken string, opts ...Option) *harness {
	t.Helper()

	store := credstore.NewMemory()
	require.NoError(t, credstore.SetPair(context.Background(), store, access, refreshToken))

	bus := authevents.New()
	var published atomic.Int32
	t.Cleanup(bus.Subscribe(func() { published.Add(1) }))

	refresher, err := refresh.NewHTTPRefresher(b.server.URL, b.server.Client())
	require.NoError(t, err)
	coordinator := refresh.NewCoordinator(store, refresher,
		refresh.WithPublisher(bus),
		refresh.WithTimeout(5*time.Second),
	)

	opts = append([]Option{WithHTTPClient(b.server.Client())}, opts...)
	client, err := New(b.server.URL, store, coordinator, opts...)
	require.NoError(t, err)

	return &harness{
		client:      client,
		store:       store,
		coordinator: coordinator,
		published:   &published,
	}
}

func refreshReturning(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestClient_SingleFlightRefresh(t *testing.T) {
	const callers = 8

	b := newBackend(t, "A2")
	gate := make(chan struct{})
	b.refreshHandler = func(w http.ResponseWriter, r *http.Request) {
		<-gate
		b.mu.Lock()
		b.validToken = "A2"
		b.mu.Unlock()
		refreshReturning(http.StatusOK, `{"access_token":"A2","refresh_token":"R2"}`)(w, r)
	}
	h := newHarness(t, b, "A1", "R1")

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out struct {
				OK bool `json:"ok"`
			}
			err := h.client.Get(context.Background(), "/api/charts", &out)
			if err == nil && !out.OK {
				err = errors.New("body not decoded")
			}
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return b.unauthHits.Load() == callers },
		5*time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), b.refreshHits.Load())
	assert.Equal(t, int64(1), h.coordinator.Attempts())

	replays := 0
	for _, auth := range b.authHeaders() {
		if auth == "Bearer A2" {
			replays++
		}
	}
	assert.Equal(t, callers, replays, "every caller replayed with the refreshed credential")

	access, _ := h.store.Get(context.Background(), credstore.Access)
	refreshToken, _ := h.store.Get(context.Background(), credstore.Refresh)
	assert.Equal(t, "A2", access)
	assert.Equal(t, "R2", refreshToken)
	assert.Equal(t, int32(0), h.published.Load())
}

func TestClient_TerminalRefreshFailure(t *testing.T) {
	const callers = 6

	b := newBackend(t, "never-valid")
	gate := make(chan struct{})
	b.refreshHandler = func(w http.ResponseWriter, r *http.Request) {
		<-gate
		refreshReturning(http.StatusBadRequest, `{"error":"invalid_grant"}`)(w, r)
	}
	h := newHarness(t, b, "A1", "R1")

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.client.Get(context.Background(), "/api/plans", nil)
		}()
	}

	require.Eventually(t, func() bool { return b.unauthHits.Load() == callers },
		5*time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, ErrSessionTerminated)
		var transportErr *TransportError
		assert.False(t, errors.As(err, &transportErr), "must not surface as transport error")
	}

	assert.Equal(t, int32(1), b.refreshHits.Load())
	assert.Equal(t, int32(1), h.published.Load())

	access, _ := h.store.Get(context.Background(), credstore.Access)
	refreshToken, _ := h.store.Get(context.Background(), credstore.Refresh)
	assert.Empty(t, access)
	assert.Empty(t, refreshToken)

	// After logout calls go out unauthenticated and are not refreshed again.
	err := h.client.Get(context.Background(), "/api/plans", nil)
	require.ErrorIs(t, err, ErrAuthenticationExpired)
	assert.Equal(t, int32(1), b.refreshHits.Load())
	assert.Equal(t, int32(1), h.published.Load())
}

func TestClient_NoDoubleRetry(t *testing.T) {
	b := newBackend(t, "never-valid")
	b.refreshHandler = refreshReturning(http.StatusOK, `{"access_token":"A2"}`)
	h := newHarness(t, b, "A1", "R1")

	err := h.client.Get(context.Background(), "/api/me", nil)

	require.ErrorIs(t, err, ErrAuthenticationExpired)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusUnauthorized, serverErr.Status)
	assert.Equal(t, "token expired", serverErr.Message)

	assert.Equal(t, int32(1), b.refreshHits.Load())
	assert.Equal(t, int32(2), b.apiHits.Load())
	assert.Equal(t, []string{"Bearer A1", "Bearer A2"}, b.authHeaders())
	assert.Equal(t, int32(0), h.published.Load())
}

func TestClient_ServerPushedRotation(t *testing.T) {
	b := newBackend(t, "A1")
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.validToken = "A3"
		b.mu.Unlock()
		w.Header().Set(HeaderNewAccessToken, "A3")
		_, _ = io.WriteString(w, `{}`)
	}
	h := newHarness(t, b, "A1", "R1")

	require.NoError(t, h.client.Get(context.Background(), "/api/me", nil))

	access, _ := h.store.Get(context.Background(), credstore.Access)
	assert.Equal(t, "A3", access)
	assert.Equal(t, int32(0), b.refreshHits.Load())
	assert.Equal(t, int64(0), h.coordinator.Attempts())

	require.NoError(t, h.client.Get(context.Background(), "/api/me", nil))
	assert.Equal(t, []string{"Bearer A1", "Bearer A3"}, b.authHeaders())
}

func TestClient_RotationOnRejectedCall(t *testing.T) {
	b := newBackend(t, "A2")
	b.rejectHeader = http.Header{HeaderNewAccessToken: []string{"A2"}}
	h := newHarness(t, b, "A1", "R1")

	var out map[string]bool
	require.NoError(t, h.client.Get(context.Background(), "/api/me", &out))
	assert.True(t, out["ok"])

	access, _ := h.store.Get(context.Background(), credstore.Access)
	assert.Equal(t, "A2", access)
	refreshToken, _ := h.store.Get(context.Background(), credstore.Refresh)
	assert.Equal(t, "R1", refreshToken)

	assert.Equal(t, int32(0), b.refreshHits.Load())
	assert.Equal(t, int64(0), h.coordinator.Attempts())
	assert.Equal(t, int32(0), h.published.Load())
	assert.Equal(t, []string{"Bearer A1", "Bearer A2"}, b.authHeaders())
}

func TestClient_NoCredentialNoRefresh(t *testing.T) {
	b := newBackend(t, "A1")
	h := newHarness(t, b, "", "R1")

	err := h.client.Get(context.Background(), "/api/me", nil)

	require.ErrorIs(t, err, ErrAuthenticationExpired)
	assert.Equal(t, int32(0), b.refreshHits.Load())
	assert.Equal(t, int64(0), h.coordinator.Attempts())
	assert.Equal(t, []string{""}, b.authHeaders(), "no Authorization header without a credential")
}

func TestClient_WithoutRefresh(t *testing.T) {
	b := newBackend(t, "A2")
	h := newHarness(t, b, "A1", "R1")

	err := h.client.Get(context.Background(), "/api/me", nil, WithoutRefresh())

	require.ErrorIs(t, err, ErrAuthenticationExpired)
	assert.Equal(t, int32(0), b.refreshHits.Load())
}

func TestClient_RequestHeaders(t *testing.T) {
	b := newBackend(t, "A2")
	b.refreshHandler = refreshReturning(http.StatusOK, `{"access_token":"A2"}`)

	type seen struct {
		contentType, language, requestID, userAgent, custom string
		body                                                map[string]any
	}
	var got seen
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		got.contentType = r.Header.Get("Content-Type")
		got.language = r.Header.Get(HeaderAcceptLanguage)
		got.requestID = r.Header.Get(HeaderRequestID)
		got.userAgent = r.Header.Get("User-Agent")
		got.custom = r.Header.Get("X-Feature")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"doc-1"}`)
	}

	h := newHarness(t, b, "A1", "R1",
		WithLocale(language.MustParse("de-CH")),
		WithUserAgent("test-agent/1.0"),
	)

	var out struct {
		ID string `json:"id"`
	}
	err := h.client.Post(context.Background(), "/api/documents",
		map[string]any{"title": "report"}, &out, WithHeader("X-Feature", "beta"))
	require.NoError(t, err)

	assert.Equal(t, "doc-1", out.ID)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "de-CH", got.language)
	assert.Equal(t, "test-agent/1.0", got.userAgent)
	assert.Equal(t, "beta", got.custom)
	assert.Equal(t, "report", got.body["title"])
	assert.NotEmpty(t, got.requestID)

	b.mu.Lock()
	ids := append([]string(nil), b.seenIDs...)
	b.mu.Unlock()
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1], "replay keeps the request id")
}

func TestClient_NoContent(t *testing.T) {
	b := newBackend(t, "A1")
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
	h := newHarness(t, b, "A1", "R1")

	out := map[string]any{"untouched": true}
	require.NoError(t, h.client.Delete(context.Background(), "/api/documents/1", &out))
	assert.Equal(t, map[string]any{"untouched": true}, out)

	resp, err := h.client.Do(context.Background(), Request{Method: http.MethodDelete, Path: "/api/documents/1"})
	require.NoError(t, err)
	assert.True(t, resp.NoContent())
}

func TestClient_ServerErrorMessage(t *testing.T) {
	b := newBackend(t, "A1")
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"Plan is not available in your region"}`)
	}
	h := newHarness(t, b, "A1", "R1")

	err := h.client.Put(context.Background(), "/api/billing/plan", map[string]string{"plan": "pro"}, nil)

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusUnprocessableEntity, serverErr.Status)
	assert.Equal(t, "Plan is not available in your region", serverErr.Message)
	assert.False(t, errors.Is(err, ErrAuthenticationExpired))
	assert.Equal(t, int32(0), b.refreshHits.Load())
}

func TestClient_MalformedResponse(t *testing.T) {
	b := newBackend(t, "A1")
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":`)
	}
	h := newHarness(t, b, "A1", "R1")

	var out map[string]any
	err := h.client.Patch(context.Background(), "/api/me", map[string]string{"name": "x"}, &out)

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, http.StatusOK, malformed.Status)
}

func TestClient_RequestTimeoutIsTransportError(t *testing.T) {
	b := newBackend(t, "A1")
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	h := newHarness(t, b, "A1", "R1")

	err := h.client.Get(context.Background(), "/api/slow", nil, WithRequestTimeout(50*time.Millisecond))

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), b.refreshHits.Load())
}

func TestClient_TokenSource(t *testing.T) {
	b := newBackend(t, "A1")
	h := newHarness(t, b, "A1", "R1")

	token, err := h.client.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "A1", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)

	require.NoError(t, h.store.Clear(context.Background()))
	_, err = h.client.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{name: "https", url: "https://api.example.com"},
		{name: "http with port", url: "http://localhost:8080"},
		{name: "empty", url: "", errContains: "cannot be empty"},
		{name: "ftp scheme", url: "ftp://example.com", errContains: "must be http or https"},
		{name: "no host", url: "http://", errContains: "must include a host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.url)
			if tt.errContains == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errContains), err.Error())
		})
	}
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient()

	transport, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
	assert.NotSame(t, c, NewHTTPClient(), "each call builds its own pool")
}
