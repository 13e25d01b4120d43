// Package refresh coordinates credential refresh across concurrent callers.
//
// # Single flight
//
// A Coordinator is either Idle or Refreshing. The first caller to arrive while
// Idle moves it to Refreshing and starts exactly one network refresh; callers
// arriving while Refreshing are queued. When the network call completes every
// queued caller, including the one that triggered it, receives the same outcome
// in arrival order, and the Coordinator returns to Idle.
//
// On success the new access credential (and the refresh credential, if the
// server rotated it) is written to the credential store before any waiter is
// released. On failure the store is cleared, SessionExpired is published once,
// and every waiter receives an error matching ErrSessionTerminated.
//
// # Failures
//
// The network call is never retried. A missing refresh credential, a transport
// error, a timeout, a non-2xx response or a malformed body are all terminal.
// The call runs detached from the triggering caller's cancellation and is
// bounded by the Coordinator timeout (DefaultTimeout unless configured), so a
// waiter is never stranded.
package refresh
