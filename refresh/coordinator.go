package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/go-authgate/api-client/credstore"
	"github.com/go-authgate/api-client/logging"
)

// DefaultTimeout bounds a single refresh network call.
const DefaultTimeout = 10 * time.Second

var (
	// ErrSessionTerminated is returned to every waiter when refresh fails
	// terminally. The credentials have been cleared.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrNoRefreshToken means no refresh credential was stored, so no
	// refresh was attempted.
	ErrNoRefreshToken = errors.New("no refresh credential available")
)

// State is the coordinator state.
type State int32

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Refresher performs the network exchange of a refresh credential for a new
// access credential. A returned token with an empty RefreshToken means the
// server did not rotate it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

// Publisher announces session loss. *authevents.Bus implements it.
type Publisher interface {
	Publish(ctx context.Context)
}

// outcome is what a pending caller is resolved with.
type outcome struct {
	access string
	err    error
}

// waiter is a pending caller and the credential it saw rejected, if any.
type waiter struct {
	ch    chan outcome
	stale string
}

// Coordinator is the single-flight refresh engine. It is safe for concurrent use.
type Coordinator struct {
	store     credstore.Store
	refresher Refresher
	publisher Publisher
	timeout   time.Duration
	logger    logging.Logger
	onStart   func()
	onDone    func(err error)

	mu      sync.Mutex
	state   State
	waiters []waiter
	// announced holds credentials whose loss was already published; reset
	// by a successful refresh.
	announced map[string]struct{}

	attempts  atomic.Int64
	completed atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each refresh network call. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPublisher sets where SessionExpired is announced.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHooks registers callbacks run when a network refresh starts and when it
// completes. Either may be nil. Hooks run on the refresh goroutine.
func WithHooks(onStart func(), onDone func(err error)) Option {
	return func(c *Coordinator) {
		c.onStart = onStart
		c.onDone = onDone
	}
}

// NewCoordinator returns an Idle coordinator.
func NewCoordinator(store credstore.Store, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		timeout:   DefaultTimeout,
		logger:    logging.Nop(),
		announced: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many refresh cycles have been started.
func (c *Coordinator) Attempts() int64 {
	return c.attempts.Load()
}

// Refresh returns a fresh access credential, joining the in-flight refresh if
// there is one.
//
// stale is the access credential the caller saw rejected. If the store already
// holds a different one, a refresh finished after that credential was attached,
// and the stored credential is returned without a new network call. Pass ""
// to always refresh.
//
// If ctx ends first Refresh returns ctx.Err(); the refresh itself keeps
// running for the other waiters.
func (c *Coordinator) Refresh(ctx context.Context, stale string) (string, error) {
	pending := make(chan outcome, 1)

	for {
		seen := c.completed.Load()
		current := c.peek(ctx, stale)

		c.mu.Lock()
		if c.state == Idle && c.completed.Load() != seen {
			// a cycle finished while the store was read
			c.mu.Unlock()
			continue
		}
		if c.state == Idle && current != "" && current != stale {
			c.mu.Unlock()
			return current, nil
		}

		c.waiters = append(c.waiters, waiter{ch: pending, stale: stale})
		start := c.state == Idle
		if start {
			c.state = Refreshing
		}
		c.mu.Unlock()

		if start {
			go c.run(context.WithoutCancel(ctx))
		}
		break
	}

	select {
	case o := <-pending:
		return o.access, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// peek reads the stored access credential for the stale shortcut. It returns
// "" when there is nothing to compare.
func (c *Coordinator) peek(ctx context.Context, stale string) string {
	if stale == "" {
		return ""
	}
	current, err := c.store.Get(ctx, credstore.Access)
	if err != nil {
		c.logger.Warn(ctx, "failed to read access credential", "error", err)
		return ""
	}
	return current
}

// run performs one refresh cycle and releases every waiter.
func (c *Coordinator) run(ctx context.Context) {
	c.attempts.Add(1)
	if c.onStart != nil {
		c.onStart()
	}

	access, current, err := c.exchange(ctx)
	if err != nil {
		c.terminate(ctx, current, err)
		err = fmt.Errorf("%w: %w", ErrSessionTerminated, err)
	} else {
		c.logger.Info(ctx, "credential refreshed", "access", logging.Redact(access))
	}

	c.mu.Lock()
	if err == nil {
		clear(c.announced)
	}
	waiters := c.waiters
	c.waiters = nil
	c.state = Idle
	c.completed.Add(1)
	c.mu.Unlock()

	for _, w := range waiters {
		w.ch <- outcome{access: access, err: err}
	}

	if c.onDone != nil {
		c.onDone(err)
	}
}

// exchange calls the refresher and stores the result. current is the access
// credential stored when the cycle began.
func (c *Coordinator) exchange(ctx context.Context) (access, current string, err error) {
	current, err = c.store.Get(ctx, credstore.Access)
	if err != nil {
		c.logger.Warn(ctx, "failed to read access credential", "error", err)
		current = ""
	}

	refreshToken, err := c.store.Get(ctx, credstore.Refresh)
	if err != nil {
		return "", current, fmt.Errorf("failed to read refresh credential: %w", err)
	}
	if refreshToken == "" {
		return "", current, ErrNoRefreshToken
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.refresher.Refresh(callCtx, refreshToken)
	if err != nil {
		return "", current, err
	}
	if token == nil || token.AccessToken == "" {
		return "", current, ErrMalformedResponse
	}

	// Written before any waiter is released.
	if err := credstore.SetPair(ctx, c.store, token.AccessToken, token.RefreshToken); err != nil {
		return "", current, err
	}
	return token.AccessToken, current, nil
}

// terminate clears the credentials and announces session loss. The loss is
// published when the store or any waiter held a credential this coordinator
// has not announced yet, so a store emptied by another process still
// produces one announcement here, and a late 401 after it does not produce
// a second.
func (c *Coordinator) terminate(ctx context.Context, current string, cause error) {
	c.logger.Warn(ctx, "refresh failed, clearing credentials", "error", cause)

	c.mu.Lock()
	lost := make([]string, 0, len(c.waiters)+1)
	if current != "" {
		lost = append(lost, current)
	}
	for _, w := range c.waiters {
		if w.stale != "" {
			lost = append(lost, w.stale)
		}
	}
	publish := false
	for _, credential := range lost {
		if _, ok := c.announced[credential]; !ok {
			c.announced[credential] = struct{}{}
			publish = true
		}
	}
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error(ctx, "failed to clear credentials", "error", err)
	}

	if publish && c.publisher != nil {
		c.publisher.Publish(ctx)
	}
}
