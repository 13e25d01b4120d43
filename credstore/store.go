// Package credstore holds the current access and refresh credentials.
//
// A Store is pure storage: it never validates credential shape and treats
// values as opaque strings. Each operation is atomic on its own; callers that
// need several values re-read them instead of caching.
//
// Three backends are provided:
//   - Memory: process-local, for tests and short-lived tools
//   - File:   a JSON document shared by several profiles, written atomically
//     under a lock file so concurrent processes do not lose updates
//   - Redis:  a hash per profile, for credentials shared between hosts
package credstore

import (
	"context"
	"errors"
	"fmt"
)

// Kind selects which credential of the pair is addressed.
type Kind string

const (
	// Access is the short-lived credential attached to every API call.
	Access Kind = "access"
	// Refresh is the long-lived credential used only to mint a new access credential.
	Refresh Kind = "refresh"
)

// ErrUnknownKind is returned for a Kind other than Access or Refresh.
var ErrUnknownKind = errors.New("unknown credential kind")

// Store is a durable key-value holder for the credential pair.
type Store interface {
	// Get returns the stored value, or "" with a nil error when absent.
	Get(ctx context.Context, kind Kind) (string, error)

	// Set overwrites the value for kind.
	Set(ctx context.Context, kind Kind, value string) error

	// Clear removes both credentials together.
	Clear(ctx context.Context) error
}

func (k Kind) validate() error {
	switch k {
	case Access, Refresh:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// SetPair writes both credentials. An empty refresh value leaves the stored
// refresh credential untouched (fixed refresh token mode).
func SetPair(ctx context.Context, s Store, access, refresh string) error {
	if err := s.Set(ctx, Access, access); err != nil {
		return fmt.Errorf("failed to store access credential: %w", err)
	}
	if refresh == "" {
		return nil
	}
	if err := s.Set(ctx, Refresh, refresh); err != nil {
		return fmt.Errorf("failed to store refresh credential: %w", err)
	}
	return nil
}
