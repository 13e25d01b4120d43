package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgCredentialsFound signals that a stored access credential exists.
type MsgCredentialsFound struct{ Source string }

// MsgCredentialsNotFound signals that calls will go out unauthenticated.
type MsgCredentialsNotFound struct{ Source string }

// MsgCredentialsSeeded signals that an externally obtained pair was stored.
type MsgCredentialsSeeded struct{}

// MsgRequesting signals that the concurrent API calls were issued.
type MsgRequesting struct {
	Calls int
	Path  string
}

// MsgRefreshing signals that a single-flight refresh started.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the credential was refreshed.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals a terminal refresh failure.
type MsgRefreshFailed struct{ Err error }

// MsgCallOK signals that one API call succeeded.
type MsgCallOK struct {
	ID   int
	Body string
}

// MsgCallFailed signals that one API call failed.
type MsgCallFailed struct {
	ID  int
	Err error
}

// MsgSessionExpired signals that credentials were cleared and the user
// must log in again.
type MsgSessionExpired struct{}

// MsgDone signals that every call has finished.
type MsgDone struct{ Summary Summary }

// MsgFatal signals a fatal error that should terminate the run.
type MsgFatal struct{ Err error }

// Summary describes a finished run.
type Summary struct {
	Calls     int
	Succeeded int
	Failed    int
	Refreshes int64
	Elapsed   time.Duration
	Access    string // redacted preview of the final access credential
}
