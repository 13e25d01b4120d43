// Package apiclient is the authenticated HTTP client shared by every caller in
// the application.
//
// Each call reads the current access credential from a credstore.Store and
// attaches it as a bearer token. A response carrying X-New-Access-Token
// updates the store immediately. A 401 on a call that carried a credential is
// repaired once: the Executor waits for the refresh coordinator (one network
// refresh no matter how many callers hit 401 together) and replays the call
// with the new credential. The replay is never repaired again.
//
// # Errors
//
//   - *TransportError: network failure or timeout
//   - *ServerError: non-2xx, Message taken from the body; a 401 also matches
//     ErrAuthenticationExpired
//   - ErrSessionTerminated: refresh failed, credentials were cleared and
//     SessionExpired was published
//   - *MalformedResponseError: a 2xx body could not be decoded
package apiclient
